package tempmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailhook/internal/mail"
)

// fakeSource serves scripted listings, one per List call. Once the script
// runs out the last entry repeats.
type fakeSource struct {
	mu      sync.Mutex
	kind    mail.Kind
	script  []listing
	calls   int
	detail  map[string]*mail.Message
	blockCh chan struct{}
}

type listing struct {
	msgs []mail.Message
	err  error
}

func (f *fakeSource) Kind() mail.Kind { return f.kind }

func (f *fakeSource) Owns(addr mail.Address) bool { return addr.Provider == f.kind }

func (f *fakeSource) List(ctx context.Context, _ mail.Address) ([]mail.Message, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.script)-1)
	f.calls++
	block := f.blockCh
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.script[i].msgs, f.script[i].err
}

func (f *fakeSource) Detail(_ context.Context, _ mail.Address, providerID string) (*mail.Message, error) {
	if m, ok := f.detail[providerID]; ok {
		out := *m
		return &out, nil
	}
	return nil, &mail.UpstreamError{Service: string(f.kind), StatusCode: http.StatusNotFound, Message: "not found"}
}

func messages(n int) []mail.Message {
	out := make([]mail.Message, n)
	for i := range out {
		out[i] = mail.Message{ProviderID: "p" + string(rune('a'+i)), Subject: "subject"}
	}
	return out
}

func testAddress(t *testing.T, kind mail.Kind) mail.Address {
	t.Helper()
	addr, err := mail.NewAddress("bob@example.com", kind, time.Now(), time.Hour)
	require.NoError(t, err)
	return addr
}

// backupServer publishes count messages for every mailbox. A negative count
// answers 500.
func backupServer(t *testing.T, count int) *BackupSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if count < 0 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("t"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/messages/"):
			msgs := make([]map[string]any, count)
			for i := range msgs {
				msgs[i] = map[string]any{"id": "b" + string(rune('a'+i)), "from": "x@y.z", "subject": "backup"}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
		case strings.HasPrefix(r.URL.Path, "/message/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "ba", "body_text": "from backup"})
		case r.URL.Path == "/stats.json":
			_ = json.NewEncoder(w).Encode(map[string]any{"total_addresses": 4, "total_messages": 9})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return NewBackupSource(srv.URL, srv.Client())
}

func TestPoller_PrimaryReplacesKnown(t *testing.T) {
	t.Parallel()

	src := &fakeSource{kind: mail.KindOneSecMail, script: []listing{{msgs: messages(3)}}}
	p := NewPoller([]Source{src}, nil)

	res := p.Poll(context.Background(), testAddress(t, mail.KindOneSecMail), messages(1))

	assert.False(t, res.Failed)
	assert.Equal(t, 2, res.NewCount)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "pa", res.Messages[0].ID)
}

func TestPoller_FailureKeepsKnown(t *testing.T) {
	t.Parallel()

	src := &fakeSource{kind: mail.KindOneSecMail, script: []listing{{err: errors.New("down")}}}
	p := NewPoller([]Source{src}, backupServer(t, -1))
	known := messages(2)

	res := p.Poll(context.Background(), testAddress(t, mail.KindOneSecMail), known)

	assert.True(t, res.Failed)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, known, res.Messages)
}

func TestPoller_BackupWinsOnlyWhenLarger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		primary     int
		backup      int
		wantCount   int
		wantSubject string
	}{
		{name: "backup larger", primary: 1, backup: 3, wantCount: 3, wantSubject: "backup"},
		{name: "equal keeps primary", primary: 2, backup: 2, wantCount: 2, wantSubject: "subject"},
		{name: "backup smaller", primary: 3, backup: 1, wantCount: 3, wantSubject: "subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{kind: mail.KindOneSecMail, script: []listing{{msgs: messages(tt.primary)}}}
			p := NewPoller([]Source{src}, backupServer(t, tt.backup))

			res := p.Poll(context.Background(), testAddress(t, mail.KindOneSecMail), nil)

			require.Len(t, res.Messages, tt.wantCount)
			assert.Equal(t, tt.wantSubject, res.Messages[0].Subject)
			assert.Equal(t, tt.wantCount, res.NewCount)
		})
	}
}

func TestPoller_UnownedAddressUsesBackup(t *testing.T) {
	t.Parallel()

	src := &fakeSource{kind: mail.KindMailTm, script: []listing{{msgs: messages(5)}}}
	p := NewPoller([]Source{src}, backupServer(t, 2))

	res := p.Poll(context.Background(), testAddress(t, mail.KindFallback), nil)

	assert.False(t, res.Failed)
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 0, src.calls)
	assert.Equal(t, "bob@example.com", res.Messages[0].To)
	assert.Equal(t, mail.KindFallback, res.Messages[0].Provider)
}

func TestPoller_NothingAnswers(t *testing.T) {
	t.Parallel()

	res := NewPoller(nil, nil).Poll(context.Background(), testAddress(t, mail.KindFallback), nil)
	assert.True(t, res.Failed)
}

func TestPoller_AssignsIDs(t *testing.T) {
	t.Parallel()

	msgs := []mail.Message{{ID: "kept"}, {ProviderID: "prov"}, {}}
	out := assignIDs(msgs)

	assert.Equal(t, "kept", out[0].ID)
	assert.Equal(t, "prov", out[1].ID)
	assert.True(t, strings.HasPrefix(out[2].ID, "msg_"))
	assert.Empty(t, msgs[2].ID)
}

func TestPoller_Detail(t *testing.T) {
	t.Parallel()

	addr := testAddress(t, mail.KindOneSecMail)

	t.Run("owning source first", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{
			kind:   mail.KindOneSecMail,
			detail: map[string]*mail.Message{"pa": {ProviderID: "pa", BodyText: "full"}},
		}
		p := NewPoller([]Source{src}, backupServer(t, 1))

		got, err := p.Detail(context.Background(), addr, mail.Message{ID: "local-id", ProviderID: "pa"})
		require.NoError(t, err)
		assert.Equal(t, "full", got.BodyText)
		assert.Equal(t, "local-id", got.ID)
	})

	t.Run("falls back to backup", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{kind: mail.KindOneSecMail}
		p := NewPoller([]Source{src}, backupServer(t, 1))

		got, err := p.Detail(context.Background(), addr, mail.Message{ID: "ba", ProviderID: "missing"})
		require.NoError(t, err)
		assert.Equal(t, "from backup", got.BodyText)
	})

	t.Run("every source fails", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{kind: mail.KindOneSecMail}
		p := NewPoller([]Source{src}, backupServer(t, -1))

		_, err := p.Detail(context.Background(), addr, mail.Message{ID: "x", ProviderID: "x"})
		require.Error(t, err)
		var upstream *mail.UpstreamError
		assert.ErrorAs(t, err, &upstream)
	})

	t.Run("no source", func(t *testing.T) {
		t.Parallel()
		_, err := NewPoller(nil, nil).Detail(context.Background(), addr, mail.Message{ID: "x"})
		assert.ErrorIs(t, err, ErrNoSource)
	})
}

func TestBackupSource_Stats(t *testing.T) {
	t.Parallel()

	stats, err := backupServer(t, 0).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalAddresses: 4, TotalMessages: 9}, stats)
}

func TestBackupSource_LegacyShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","sender":"ann@example.com","subject":"hi","body-plain":"text","received_at":"2023-11-14T22:13:20Z"}]}`))
	}))
	t.Cleanup(srv.Close)

	msgs, err := NewBackupSource(srv.URL+"/", srv.Client()).List(context.Background(), testAddress(t, mail.KindMailgun))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "ann@example.com", m.From)
	assert.Equal(t, "text", m.BodyText)
	assert.Equal(t, mail.KindMailgun, m.Provider)
	assert.True(t, m.Timestamp.Equal(time.Unix(1700000000, 0)))
}
