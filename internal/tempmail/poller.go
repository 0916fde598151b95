package tempmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shineum/mailhook/internal/mail"
)

// ErrNoSource is returned by Detail when nothing can serve the address.
var ErrNoSource = errors.New("no message source for address")

// Source is a poll provider that can list and read an address's inbox.
type Source interface {
	Kind() mail.Kind
	Owns(addr mail.Address) bool
	List(ctx context.Context, addr mail.Address) ([]mail.Message, error)
	Detail(ctx context.Context, addr mail.Address, providerID string) (*mail.Message, error)
}

// PollResult is the outcome of one poll cycle.
type PollResult struct {
	// Messages is the set to hold after this cycle.
	Messages []mail.Message
	// NewCount is how many more messages Messages holds than the known set.
	NewCount int
	// Failed is set when no source answered; Messages is then the known set.
	Failed bool
}

// Poller fetches an address's messages from the source that owns it and
// reconciles them with the backup source.
type Poller struct {
	sources []Source
	backup  *BackupSource
}

// NewPoller creates a Poller. The first source that owns an address serves
// it; backup may be nil.
func NewPoller(sources []Source, backup *BackupSource) *Poller {
	return &Poller{sources: sources, backup: backup}
}

// Poll runs one cycle. The fetched set replaces known unless the backup
// holds strictly more messages. A failed fetch keeps known.
func (p *Poller) Poll(ctx context.Context, addr mail.Address, known []mail.Message) PollResult {
	logger := slog.With("address", addr.Address, "provider", addr.Provider)

	fetched := known
	answered := false

	if src := p.sourceFor(addr); src != nil {
		msgs, err := src.List(ctx, addr)
		if err != nil {
			logger.Debug("poll source failed, keeping previous messages", "source", src.Kind(), "error", err)
		} else {
			fetched = msgs
			answered = true
		}
	}

	if p.backup != nil {
		msgs, err := p.backup.List(ctx, addr)
		switch {
		case err != nil:
			logger.Debug("backup source failed", "error", err)
		default:
			answered = true
			if len(msgs) > len(fetched) {
				fetched = msgs
			}
		}
	}

	if !answered {
		return PollResult{Messages: known, Failed: true}
	}

	fetched = assignIDs(fetched)
	return PollResult{
		Messages: fetched,
		NewCount: max(0, len(fetched)-len(known)),
	}
}

// Detail reads one message, from the owning source first and then from the
// backup.
func (p *Poller) Detail(ctx context.Context, addr mail.Address, msg mail.Message) (*mail.Message, error) {
	var errs []error

	if src := p.sourceFor(addr); src != nil && msg.ProviderID != "" {
		detail, err := src.Detail(ctx, addr, msg.ProviderID)
		if err == nil {
			detail.ID = msg.ID
			return detail, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Kind(), err))
	}

	if p.backup != nil {
		detail, err := p.backup.Detail(ctx, addr, msg.ID)
		if err == nil {
			return detail, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backupService, err))
	}

	if len(errs) == 0 {
		return nil, ErrNoSource
	}
	return nil, errors.Join(errs...)
}

func (p *Poller) sourceFor(addr mail.Address) Source {
	for _, src := range p.sources {
		if src.Owns(addr) {
			return src
		}
	}
	return nil
}

// assignIDs gives every message an id, reusing the provider's when it has
// one so ids stay stable across cycles.
func assignIDs(msgs []mail.Message) []mail.Message {
	out := make([]mail.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			if m.ProviderID != "" {
				m.ID = m.ProviderID
			} else {
				m.ID = "msg_" + uuid.NewString()
			}
		}
		out[i] = m
	}
	return out
}
