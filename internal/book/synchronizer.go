package book

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Synchronizer reconciles a REST snapshot with the buffered diff stream.
//
// Protocol (Binance depth stream semantics):
//  1. Buffer diffs while the snapshot request is in flight.
//  2. Apply the snapshot, then discard buffered diffs whose final update id
//     is covered by it.
//  3. The first retained diff must straddle the snapshot:
//     first_update_id <= snapshot_id+1 <= final_update_id.
//  4. From there every diff must connect to the previous one; any hole is
//     ErrGapDetected and the owner restarts the whole procedure.
type Synchronizer struct {
	book   *OrderBook
	buffer []domain.DepthUpdate
	synced bool
	logger *slog.Logger
}

// NewSynchronizer wraps the given book. The synchronizer starts unsynced;
// diffs are buffered until Initialize is called with a snapshot.
func NewSynchronizer(b *OrderBook, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		book:   b,
		logger: logger.With(slog.String("component", "book_sync"), slog.String("symbol", b.Symbol())),
	}
}

// Synced reports whether the book currently tracks the live stream.
func (s *Synchronizer) Synced() bool { return s.synced }

// Buffer stores a diff received before (or during) snapshot fetch.
func (s *Synchronizer) Buffer(u domain.DepthUpdate) {
	s.buffer = append(s.buffer, u)
}

// Initialize applies the snapshot and replays the buffered diffs on top of
// it. On any sequencing violation the book is left unsynced and the caller
// must refetch a snapshot (after buffering fresh diffs).
func (s *Synchronizer) Initialize(snap domain.BookSnapshot) error {
	s.book.ApplySnapshot(snap)
	s.synced = false

	applied, skipped := 0, 0
	first := true
	for _, u := range s.buffer {
		if u.FinalUpdateID <= snap.LastUpdateID {
			skipped++
			continue
		}
		if first {
			// The first retained diff must cover snapshot_id+1, otherwise
			// there is a hole between snapshot and stream.
			if u.FirstUpdateID > snap.LastUpdateID+1 {
				s.buffer = nil
				return fmt.Errorf("book: first diff %d..%d does not straddle snapshot %d: %w",
					u.FirstUpdateID, u.FinalUpdateID, snap.LastUpdateID, domain.ErrGapDetected)
			}
			first = false
		}
		ok, err := s.book.ApplyUpdate(u)
		if err != nil {
			s.buffer = nil
			return fmt.Errorf("book: replay buffered diff %d..%d: %w", u.FirstUpdateID, u.FinalUpdateID, err)
		}
		if ok {
			applied++
		} else {
			skipped++
		}
	}

	if err := s.book.ValidateIntegrity(); err != nil {
		s.buffer = nil
		return fmt.Errorf("book: after snapshot replay: %w", err)
	}

	s.buffer = nil
	s.synced = true
	s.logger.Info("book synchronized",
		slog.Int64("last_update_id", s.book.LastUpdateID()),
		slog.Int("replayed", applied),
		slog.Int("discarded", skipped),
	)
	return nil
}

// Apply routes a live diff. Before Initialize it buffers; afterwards it
// applies and validates. It returns true when the diff mutated the book.
// A gap or crossed book unsyncs the book; the caller drops state and
// refetches the snapshot.
func (s *Synchronizer) Apply(u domain.DepthUpdate) (bool, error) {
	if !s.synced {
		s.Buffer(u)
		return false, nil
	}

	ok, err := s.book.ApplyUpdate(u)
	if err != nil {
		s.synced = false
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := s.book.ValidateIntegrity(); err != nil {
		s.synced = false
		return false, err
	}
	return true, nil
}

// Reset discards the buffer and marks the book unsynced, the first step of
// a forced resync.
func (s *Synchronizer) Reset() {
	s.buffer = nil
	s.synced = false
}
