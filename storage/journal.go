package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/ptgott/one-mailer/email"
)

// ErrJournalDisabled is returned by Lookup when no storage directory was
// configured.
var ErrJournalDisabled = errors.New("the journal is disabled (no storageDir configured)")

const journalKeyPrefix = "sent/"

// SendRecord describes one message the SMTP server accepted.
type SendRecord struct {
	MessageID   string    `json:"messageId"`
	SentAt      time.Time `json:"sentAt"`
	Subject     string    `json:"subject"`
	From        string    `json:"from"`
	Recipients  []string  `json:"recipients"`
	Attachments []string  `json:"attachments"`
	// Total size of the attachment files, e.g., "1.2MB"
	AttachmentSize string `json:"attachmentSize,omitempty"`
}

// NewSendRecord describes m as sent at sentAt. m must have been stamped
// (Session.Send does this).
func NewSendRecord(m *email.Message, sentAt time.Time) SendRecord {
	r := SendRecord{
		MessageID:  m.MessageID(),
		SentAt:     sentAt.UTC(),
		Subject:    m.Subject,
		From:       m.From,
		Recipients: m.EnvelopeRecipients(),
	}
	var total int64
	for _, a := range m.Attachments {
		r.Attachments = append(r.Attachments, a.DisplayName)
		total += a.SizeBytes
	}
	if total > 0 {
		r.AttachmentSize = units.HumanSize(float64(total))
	}
	return r
}

// Key returns the journal key for a Message-ID.
func Key(messageID string) []byte {
	return []byte(journalKeyPrefix + messageID)
}

// NewKVEntry prepares the record to be saved in the KV database. Keys are
// Message-IDs, values are JSON.
func (r SendRecord) NewKVEntry() (KVEntry, error) {
	if r.MessageID == "" {
		return KVEntry{}, errors.New("can't journal a message without a Message-ID")
	}
	b, err := json.Marshal(r)
	if err != nil {
		return KVEntry{}, fmt.Errorf("can't serialize the send record: %w", err)
	}
	return KVEntry{
		Key:   Key(r.MessageID),
		Value: b,
	}, nil
}

// Journal keeps a record of completed sends. It is not a queue: nothing in
// it is ever sent again.
type Journal struct {
	kv       KeyValue
	disabled bool
	logger   zerolog.Logger
}

// NewJournal wraps kv.
func NewJournal(kv KeyValue, logger zerolog.Logger) *Journal {
	_, noop := kv.(*NoOpDB)
	return &Journal{kv: kv, disabled: noop, logger: logger}
}

// OpenJournal opens the BadgerDB journal described by conf, or a disabled
// journal backed by NoOpDB if conf has no storage directory.
func OpenJournal(conf KVConfig, logger zerolog.Logger) (*Journal, error) {
	if conf.StorageDirPath == "" {
		logger.Debug().Msg("no storage directory configured, so the journal is disabled")
		return NewJournal(&NoOpDB{}, logger), nil
	}
	db, err := NewBadgerDB(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("can't open the journal: %w", err)
	}
	return NewJournal(db, logger), nil
}

// Enabled reports whether records are actually kept.
func (j *Journal) Enabled() bool {
	return !j.disabled
}

// Record saves r. A disabled journal drops it silently.
func (j *Journal) Record(r SendRecord) error {
	if j.disabled {
		return nil
	}
	e, err := r.NewKVEntry()
	if err != nil {
		return err
	}
	if err := j.kv.Put(e); err != nil {
		return fmt.Errorf("can't journal message %v: %w", r.MessageID, err)
	}
	j.logger.Debug().
		Str("message_id", r.MessageID).
		Int("recipients", len(r.Recipients)).
		Msg("journaled the send")
	return nil
}

// Lookup returns the record for messageID. Angle brackets around the ID
// are ignored, so a Message-ID header value works as-is.
func (j *Journal) Lookup(messageID string) (SendRecord, error) {
	if j.disabled {
		return SendRecord{}, ErrJournalDisabled
	}
	if len(messageID) > 1 && messageID[0] == '<' && messageID[len(messageID)-1] == '>' {
		messageID = messageID[1 : len(messageID)-1]
	}
	e, err := j.kv.Read(Key(messageID))
	if err != nil {
		return SendRecord{}, fmt.Errorf("can't look up message %v: %w", messageID, err)
	}
	var r SendRecord
	if err := json.Unmarshal(e.Value, &r); err != nil {
		return SendRecord{}, fmt.Errorf("can't parse the record for message %v: %w", messageID, err)
	}
	return r, nil
}

// Close garbage-collects expired records and closes the store.
func (j *Journal) Close() error {
	if err := j.kv.Cleanup(); err != nil {
		j.logger.Warn().Err(err).Msg("can't clean up the journal")
	}
	return j.kv.Close()
}
