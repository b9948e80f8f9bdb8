package ground

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

	"github.com/danmuck/agrilink/internal/archive"
	"github.com/danmuck/agrilink/internal/link/stub"
	"github.com/danmuck/agrilink/internal/observability"
	"github.com/danmuck/agrilink/internal/protocol"
	"github.com/danmuck/agrilink/internal/protocol/frame"
	"github.com/danmuck/agrilink/internal/protocol/quasijson"
	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/danmuck/agrilink/internal/relay"
	"github.com/danmuck/agrilink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
)

type capturePublisher struct {
	mu   sync.Mutex
	recs []quasijson.Record
}

func (p *capturePublisher) Publish(_ context.Context, rec quasijson.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *capturePublisher) records() []quasijson.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]quasijson.Record(nil), p.recs...)
}

type memStore struct {
	mu   sync.Mutex
	objs []archive.Object
	err  error
}

func (m *memStore) Put(_ context.Context, obj archive.Object) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.objs = append(m.objs, obj)
	key, err := archive.Key(obj)
	if err != nil {
		return "", err
	}
	return "mem://" + key, nil
}

type queuedCommands struct {
	mu    sync.Mutex
	texts []string
}

func (q *queuedCommands) FetchCommand(context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.texts) == 0 {
		return "", nil
	}
	t := q.texts[0]
	q.texts = q.texts[1:]
	return t, nil
}

func testServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.StationID = "ground.test"
	cfg.Link.PollInterval = 2 * time.Millisecond
	cfg.Link.BaseDelay = time.Millisecond
	cfg.Link.SettleDelay = time.Millisecond
	cfg.ExpireInterval = 5 * time.Millisecond
	cfg.CommandPollInterval = 5 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg ServiceConfig, deps Deps) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func serve(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sealed(t *testing.T, tag frame.Tag, body string) []byte {
	t.Helper()
	b, err := frame.Encode(frame.Seal(frame.Message{Tag: tag, Body: body}), frame.ModeTagPrefix, frame.DefaultDataTerminators)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func sessionPackets(t *testing.T, name string, data []byte) [][]byte {
	t.Helper()
	var out [][]byte
	sender := senderFunc(func(_ context.Context, p protocol.Packet) error {
		out = append(out, p.Encode())
		return nil
	})
	s := session.NewSession(session.BytesResource("r", name, data), session.DefaultConfig())
	if _, err := s.Run(context.Background(), sender); err != nil {
		t.Fatalf("session run: %v", err)
	}
	return out
}

type senderFunc func(ctx context.Context, p protocol.Packet) error

func (f senderFunc) Send(ctx context.Context, p protocol.Packet) error { return f(ctx, p) }

func TestTextFramesAreNormalizedAndPublished(t *testing.T) {
	testlog.Start(t)
	field, radio := stub.Pair()
	pub := &capturePublisher{}
	svc := newTestService(t, testServiceConfig(), Deps{Radio: radio, Publisher: pub, Store: &memStore{}})
	serve(t, svc)

	ctx := context.Background()
	frameBytes := sealed(t, frame.TagTelemetry, "M:12.5,La:-1.28,L:36.82")
	_ = field.Transmit(ctx, frameBytes[:7])
	_ = field.Transmit(ctx, frameBytes[7:])
	_ = field.Transmit(ctx, sealed(t, frame.TagGround, "T:21, H:40, SM:'dry'"))
	_ = field.Transmit(ctx, []byte("bogus:1#"))
	_ = field.Transmit(ctx, sealed(t, frame.TagTelemetry, "M:12.5,T:"))

	waitFor(t, "two published records", func() bool { return len(pub.records()) == 2 })
	recs := pub.records()
	if recs[0].Class != "telemetry" || recs[1].Class != "ground" {
		t.Fatalf("classes=%q,%q", recs[0].Class, recs[1].Class)
	}
	if v, _ := recs[0].Float("La"); v != -1.28 {
		t.Fatalf("La=%v", v)
	}
	body, err := json.Marshal(recs[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(body) != `{"T":21,"H":40,"SM":"dry","SP":null,"SL":null}` {
		t.Fatalf("ground json=%s", body)
	}
	if got := len(svc.Records()); got != 2 {
		t.Fatalf("stored records=%d", got)
	}
}

func TestResourcePacketsAreArchivedAndAnnounced(t *testing.T) {
	testlog.Start(t)
	field, radio := stub.Pair()
	pub := &capturePublisher{}
	store := &memStore{}
	svc := newTestService(t, testServiceConfig(), Deps{Radio: radio, Publisher: pub, Store: store})
	serve(t, svc)

	data := []byte(strings.Repeat("0123456789", 60))
	ctx := context.Background()
	for _, p := range sessionPackets(t, "cam.jpg", data) {
		_ = field.Transmit(ctx, p)
	}
	_ = field.Transmit(ctx, sealed(t, frame.TagTelemetry, "M:1"))

	waitFor(t, "image and telemetry records", func() bool { return len(pub.records()) == 2 })
	recs := pub.records()
	img, ok := recs[0].Get("image")
	if recs[0].Class != "image" || !ok || !strings.HasPrefix(img.String, "mem://") || !strings.HasSuffix(img.String, "-cam.jpg") {
		t.Fatalf("image record=%+v", recs[0])
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objs) != 1 || string(store.objs[0].Data) != string(data) || !store.objs[0].Complete {
		t.Fatalf("archived=%d", len(store.objs))
	}
	tr := svc.Transfers()
	if len(tr) != 1 || tr[0].Location != img.String || tr[0].PacketsTotal != 3 {
		t.Fatalf("transfers=%+v", tr)
	}
}

func receivedTransfers(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "agrilink_transfer_sessions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["side"] == "receive" && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestReceivedTransferIsCountedOnce(t *testing.T) {
	testlog.Start(t)
	observability.RegisterMetrics()
	_, radio := stub.Pair()
	store := &memStore{}
	svc := newTestService(t, testServiceConfig(), Deps{Radio: radio, Publisher: &capturePublisher{}, Store: store})

	before := receivedTransfers(t, "done")
	for _, p := range sessionPackets(t, "once.jpg", []byte(strings.Repeat("x", 300))) {
		svc.HandleChunk(context.Background(), p)
	}
	if got := len(svc.Transfers()); got != 1 {
		t.Fatalf("transfers=%d", got)
	}
	if got := receivedTransfers(t, "done"); got != before+1 {
		t.Fatalf("received done=%v want %v", got, before+1)
	}
}

func TestStalledTransferIsArchivedAsPartial(t *testing.T) {
	testlog.Start(t)
	cfg := testServiceConfig()
	cfg.Assembler.Timeout = 20 * time.Millisecond
	store := &memStore{}
	pub := &capturePublisher{}
	svc := newTestService(t, cfg, Deps{Radio: stub.New(), Publisher: pub, Store: store})

	packets := sessionPackets(t, "cut.jpg", make([]byte, 600))
	for _, p := range packets[:2] {
		svc.HandleChunk(context.Background(), p)
	}
	serve(t, svc)

	waitFor(t, "expired transfer", func() bool { return len(svc.Transfers()) == 1 })
	tr := svc.Transfers()[0]
	if tr.Complete || tr.Reason != "timed out" || len(tr.Missing) != 2 || !strings.HasSuffix(tr.Location, ".partial") {
		t.Fatalf("transfer=%+v", tr)
	}
	if n := len(pub.records()); n != 0 {
		t.Fatalf("partial transfer announced: %d records", n)
	}
}

func TestArchiveFailureIsRecorded(t *testing.T) {
	testlog.Start(t)
	store := &memStore{err: errors.New("disk full")}
	pub := &capturePublisher{}
	svc := newTestService(t, testServiceConfig(), Deps{Radio: stub.New(), Publisher: pub, Store: store})
	for _, p := range sessionPackets(t, "a.jpg", []byte("abc")) {
		svc.HandleChunk(context.Background(), p)
	}
	tr := svc.Transfers()
	if len(tr) != 1 || tr[0].Error != "disk full" || tr[0].Location != "" {
		t.Fatalf("transfers=%+v", tr)
	}
	if len(svc.Records()) != 0 {
		t.Fatalf("failed archive produced a record")
	}
}

func TestPolledCommandsReachFieldNode(t *testing.T) {
	testlog.Start(t)
	field, radio := stub.Pair()
	cmds := &queuedCommands{texts: []string{"Send  Image", "launch rockets", "reboot"}}
	svc := newTestService(t, testServiceConfig(), Deps{Radio: radio, Commands: cmds, Store: &memStore{}})
	serve(t, svc)

	reasm, err := frame.NewReassembler(frame.DefaultCommandTerminators, 64)
	if err != nil {
		t.Fatalf("reassembler: %v", err)
	}
	var tokens []string
	waitFor(t, "two tokens", func() bool {
		if b, ok := field.Poll(); ok {
			got, _ := reasm.Feed(b)
			for _, tok := range got {
				if tok != "" {
					tokens = append(tokens, tok)
				}
			}
		}
		return len(tokens) == 2
	})
	if tokens[0] != "SI" || tokens[1] != "RB" {
		t.Fatalf("tokens=%q", tokens)
	}
}

func TestCommandRoute(t *testing.T) {
	testlog.Start(t)
	field, radio := stub.Pair()
	cfg := testServiceConfig()
	cfg.StatusAddr = "127.0.0.1:0"
	svc := newTestService(t, cfg, Deps{Radio: radio, Store: &memStore{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader(`{"command":"status"}`))
	req.Header.Set("Content-Type", "application/json")
	svc.status.HTTPRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"token":"ES"`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if b, ok := field.Poll(); !ok || string(b) != "ES~" {
		t.Fatalf("field received %q ok=%v", b, ok)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader(`{"command":"dance"}`))
	req.Header.Set("Content-Type", "application/json")
	svc.status.HTTPRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown command status=%d", rec.Code)
	}
}

func TestValidateRejectsResourceLimitBreakingDemux(t *testing.T) {
	testlog.Start(t)
	cfg := testServiceConfig()
	cfg.Assembler.MaxResourceBytes = 1 << 24
	if _, err := NewService(context.Background(), cfg, Deps{Radio: stub.New(), Store: &memStore{}}); !errors.Is(err, ErrResourceLimit) {
		t.Fatalf("err=%v want ErrResourceLimit", err)
	}
	if _, err := NewService(context.Background(), testServiceConfig(), Deps{Store: &memStore{}}); !errors.Is(err, ErrNoRadio) {
		t.Fatalf("err=%v want ErrNoRadio", err)
	}
}

func TestRelayClientIsBuiltFromConfig(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	var paths []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	field, radio := stub.Pair()
	cfg := testServiceConfig()
	cfg.Relay = relay.DefaultConfig()
	cfg.Relay.BaseURL = backend.URL
	svc := newTestService(t, cfg, Deps{Radio: radio, Store: &memStore{}})
	serve(t, svc)

	_ = field.Transmit(context.Background(), sealed(t, frame.TagGround, "T:20"))
	waitFor(t, "ground post", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range paths {
			if p == "POST /api/ground" {
				return true
			}
		}
		return false
	})
}
