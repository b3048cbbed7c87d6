package backend

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/ptgott/mailroom/message"
	"github.com/rs/zerolog/log"
)

// Spool persists serialized messages in an embedded BadgerDB under the
// configured directory instead of sending them anywhere. A separate
// process can drain the spool later, and messages survive a crash
// between delivery and draining.
type Spool struct {
	settings Settings
	db       *badger.DB
}

// Open opens the spool database, creating it if needed. A no-op when
// the database is already open.
func (b *Spool) Open() error {
	if b.db != nil {
		return nil
	}
	// Badger's default logger prints directly to stderr, which drowns
	// out our own logs.
	opts := badger.DefaultOptions(b.settings.Dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return &TransportError{
			Op:  "open the spool database",
			Err: err,
		}
	}
	b.db = db
	return nil
}

// Close tears down the database connection. A no-op when the database
// isn't open.
func (b *Spool) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return &TransportError{Op: "close the spool database", Err: err}
	}
	return nil
}

// Deliver stores each message's serialized document under a random
// key, opening the database for the duration of the call if it isn't
// open.
func (b *Spool) Deliver(msgs []*message.Message) (int, error) {
	openedHere := b.db == nil
	if openedHere {
		if err := b.Open(); err != nil {
			if b.settings.FailSilently {
				log.Debug().
					Err(err).
					Msg("dropping a spool error: failing silently")
				return 0, nil
			}
			return 0, err
		}
		defer b.Close()
	}

	var sent int
	var errs []error
	for _, m := range msgs {
		raw, err := serialize(m, b.settings)
		if err != nil {
			errs = recordFailure(errs, err, b.settings)
			continue
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(uuid.NewString()), raw)
		})
		if err != nil {
			errs = recordFailure(
				errs,
				&TransportError{
					Op:  "store the message",
					Err: fmt.Errorf("transaction failed: %v", err),
				},
				b.settings,
			)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Each calls fn with the key and serialized document of every spooled
// message. The database must be open. Values are copied before fn sees
// them since Badger values are only valid inside their transaction.
func (b *Spool) Each(fn func(key string, raw []byte) error) error {
	if b.db == nil {
		return errors.New("the spool database is not open")
	}
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("can't copy a spooled message: %v", err)
			}
			if err := fn(string(item.Key()), v); err != nil {
				return err
			}
		}
		return nil
	})
}
