package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const tick = 10 * time.Millisecond

/* ------------------------------- test fakes ------------------------------ */

// fakeWidget is a runtime whose readiness is controlled by the test.
type fakeWidget struct {
	ready chan struct{}
	field *fakeField

	mu       sync.Mutex
	executed []string
	issue    func(n int) *string // token written to field on the n-th execute
	execErr  error
}

func newFakeWidget(field *fakeField) *fakeWidget {
	w := &fakeWidget{ready: make(chan struct{}), field: field}
	close(w.ready)
	return w
}

func (w *fakeWidget) Ready(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ready:
		return nil
	}
}

func (w *fakeWidget) Execute(_ context.Context, siteKey, action string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.execErr != nil {
		return w.execErr
	}
	w.executed = append(w.executed, siteKey+"/"+action)
	if w.issue != nil {
		w.field.set(w.issue(len(w.executed)))
	}
	return nil
}

// fakeField replays a scripted sequence of reads, then sticks to the last one.
// A nil entry means the field is absent.
type fakeField struct {
	mu      sync.Mutex
	script  []*string
	reads   []time.Time
	current *string
	cleared int
	err     error
}

func str(s string) *string { return &s }

func (f *fakeField) set(v *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = nil
	f.current = v
}

func (f *fakeField) Value(context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, time.Now())
	if f.err != nil {
		return "", false, f.err
	}
	if len(f.script) > 0 {
		f.current = f.script[0]
		f.script = f.script[1:]
	}
	if f.current == nil {
		return "", false, nil
	}
	return *f.current, true, nil
}

func (f *fakeField) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

// clearingField adds Clear to fakeField.
type clearingField struct{ *fakeField }

func (c clearingField) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	c.current = str("")
	return nil
}

func newAcquirer(t *testing.T, rt Runtime, src TokenSource, timeout time.Duration) *Acquirer {
	t.Helper()
	a, err := New(rt, src, Options{SiteKey: TestSiteKey, PollInterval: tick, Timeout: timeout})
	if err != nil {
		t.Fatalf("new acquirer: %v", err)
	}
	return a
}

/* --------------------------------- tests -------------------------------- */

func TestNew_Validation(t *testing.T) {
	field := &fakeField{}
	w := newFakeWidget(field)
	cases := []struct {
		name string
		rt   Runtime
		src  TokenSource
		key  string
		want error
	}{
		{"no runtime", nil, field, TestSiteKey, ErrNoRuntime},
		{"no source", w, nil, TestSiteKey, ErrNoSource},
		{"blank key", w, field, "  ", ErrNoSiteKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.rt, tc.src, Options{SiteKey: tc.key}); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	a, err := New(w, field, Options{SiteKey: TestSiteKey})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.opts.PollInterval != 100*time.Millisecond {
		t.Fatalf("default poll interval = %v", a.opts.PollInterval)
	}
}

// Widget ready, execution resolves and the field already holds a token.
func TestToken_FieldAlreadyPopulated(t *testing.T) {
	field := &fakeField{current: str("abc123")}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	start := time.Now()
	got, err := a.Token(context.Background(), "login")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "abc123" {
		t.Fatalf("want abc123, got %q", got)
	}
	if time.Since(start) < tick {
		t.Fatalf("token delivered before one poll cycle")
	}
	if len(w.executed) != 1 || w.executed[0] != TestSiteKey+"/login" {
		t.Fatalf("unexpected executions: %v", w.executed)
	}
}

// Acquisition does not proceed until readiness fires.
func TestAcquire_WaitsForReadiness(t *testing.T) {
	field := &fakeField{current: str("tok")}
	w := &fakeWidget{ready: make(chan struct{}), field: field}
	a := newAcquirer(t, w, field, 0)

	got := make(chan string, 1)
	a.Acquire(context.Background(), "signup", func(tok string) { got <- tok })

	time.Sleep(5 * tick)
	select {
	case tok := <-got:
		t.Fatalf("token %q delivered before widget was ready", tok)
	default:
	}
	if n := field.readCount(); n != 0 {
		t.Fatalf("field polled %d times before readiness", n)
	}

	close(w.ready)
	select {
	case tok := <-got:
		if tok != "tok" {
			t.Fatalf("want tok, got %q", tok)
		}
	case <-time.After(time.Second):
		t.Fatal("token not delivered after readiness")
	}
}

// Empty and absent reads are skipped; only the real token is delivered, once.
func TestAcquire_SkipsEmptyAndAbsent(t *testing.T) {
	field := &fakeField{script: []*string{str(""), nil, str(""), str("tok-xyz")}}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	var mu sync.Mutex
	var delivered []string
	done := make(chan struct{})
	a.Acquire(context.Background(), "guess", func(tok string) {
		mu.Lock()
		delivered = append(delivered, tok)
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("token not delivered")
	}
	time.Sleep(5 * tick)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "tok-xyz" {
		t.Fatalf("want exactly [tok-xyz], got %v", delivered)
	}
	if n := field.readCount(); n != 4 {
		t.Fatalf("want 4 reads, got %d", n)
	}
}

// A field that never fills never triggers the callback.
func TestAcquire_NeverPopulated(t *testing.T) {
	field := &fakeField{}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	called := make(chan string, 1)
	a.Acquire(ctx, "guess", func(tok string) { called <- tok })

	select {
	case tok := <-called:
		t.Fatalf("unexpected delivery %q", tok)
	case <-time.After(20 * tick):
	}
	if n := field.readCount(); n < 5 {
		t.Fatalf("want the field to keep being polled, got %d reads", n)
	}
}

func TestToken_PollsAtFixedInterval(t *testing.T) {
	field := &fakeField{script: []*string{nil, nil, nil, nil, str("late")}}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	if _, err := a.Token(context.Background(), "guess"); err != nil {
		t.Fatalf("token: %v", err)
	}
	field.mu.Lock()
	defer field.mu.Unlock()
	for i := 1; i < len(field.reads); i++ {
		if gap := field.reads[i].Sub(field.reads[i-1]); gap < tick {
			t.Fatalf("read %d came %v after the previous one, want >= %v", i, gap, tick)
		}
	}
}

func TestToken_Timeout(t *testing.T) {
	field := &fakeField{}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 5*tick)

	_, err := a.Token(context.Background(), "guess")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestToken_CancelledWhileWaitingReady(t *testing.T) {
	field := &fakeField{current: str("tok")}
	w := &fakeWidget{ready: make(chan struct{}), field: field}
	a := newAcquirer(t, w, field, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(2*tick, cancel)
	_, err := a.Token(ctx, "guess")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(w.executed) != 0 {
		t.Fatalf("challenge executed despite cancellation")
	}
}

func TestToken_PropagatesErrors(t *testing.T) {
	execErr := errors.New("execute rejected")
	field := &fakeField{current: str("tok")}
	w := newFakeWidget(field)
	w.execErr = execErr
	a := newAcquirer(t, w, field, 0)
	if _, err := a.Token(context.Background(), "guess"); !errors.Is(err, execErr) {
		t.Fatalf("want execute error, got %v", err)
	}

	readErr := errors.New("tab crashed")
	field2 := &fakeField{err: readErr}
	a2 := newAcquirer(t, newFakeWidget(field2), field2, 0)
	if _, err := a2.Token(context.Background(), "guess"); !errors.Is(err, readErr) {
		t.Fatalf("want read error, got %v", err)
	}
}

func TestToken_ClearsStaleTokenBeforeExecute(t *testing.T) {
	inner := &fakeField{current: str("stale")}
	field := clearingField{inner}
	w := newFakeWidget(inner)
	a := newAcquirer(t, w, field, 0)

	// Fill the field only after a few empty reads.
	go func() {
		time.Sleep(3 * tick)
		inner.set(str("fresh"))
	}()

	got, err := a.Token(context.Background(), "guess")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "fresh" {
		t.Fatalf("want fresh, got %q", got)
	}
	if inner.cleared != 1 {
		t.Fatalf("want 1 clear, got %d", inner.cleared)
	}
}

func TestToken_ConcurrentCallsAreSerialized(t *testing.T) {
	field := &fakeField{}
	w := newFakeWidget(field)
	w.issue = func(n int) *string { return str(fmt.Sprintf("tok-%d", n)) }
	a := newAcquirer(t, w, field, time.Second)

	var wg sync.WaitGroup
	results := make(chan string, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := a.Token(context.Background(), "guess")
			if err != nil {
				t.Errorf("token: %v", err)
				return
			}
			results <- tok
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for tok := range results {
		seen[tok] = true
	}
	if !seen["tok-1"] || !seen["tok-2"] {
		t.Fatalf("each caller should receive its own token, got %v", seen)
	}
}

func TestToken_WaitingBehindHungAcquisitionHonoursDeadline(t *testing.T) {
	field := &fakeField{}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	hung, stop := context.WithCancel(context.Background())
	defer stop()
	a.Acquire(hung, "guess", func(string) { t.Error("hung acquisition delivered a token") })

	// Let the first acquisition take the slot and start polling.
	deadline := time.Now().Add(time.Second)
	for field.readCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first acquisition never started polling")
		}
		time.Sleep(tick)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*tick)
	defer cancel()
	start := time.Now()
	_, err := a.Token(ctx, "guess")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Fatalf("second call blocked %v past its deadline", waited)
	}

	// Once the first acquisition ends, the slot is free again.
	stop()
	time.Sleep(5 * tick)
	field.set(str("tok"))
	got, err := a.Token(context.Background(), "guess")
	if err != nil || got != "tok" {
		t.Fatalf("want tok after release, got %q %v", got, err)
	}
}

func TestAcquire_NilCallbackIsIgnored(t *testing.T) {
	field := &fakeField{current: str("tok")}
	w := newFakeWidget(field)
	a := newAcquirer(t, w, field, 0)

	a.Acquire(context.Background(), "guess", nil)
	time.Sleep(5 * tick)

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.executed) != 0 {
		t.Fatalf("challenge executed without a callback: %v", w.executed)
	}
}
