package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolink/appbridge/channel"
)

const testGroup = "group.com.adguard.safari"

// countingChannel wraps a memory channel and counts observations.
type countingChannel struct {
	*channel.MemoryChannel
	mu       sync.Mutex
	observed map[string]int
	active   int
}

func (c *countingChannel) Observe(name string, fn func(channel.Signal)) (channel.Token, error) {
	token, err := c.MemoryChannel.Observe(name, fn)
	if err == nil {
		c.mu.Lock()
		c.observed[name]++
		c.active++
		c.mu.Unlock()
	}
	return token, err
}

func (c *countingChannel) Cancel(token channel.Token) error {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return c.MemoryChannel.Cancel(token)
}

func (c *countingChannel) stats(name string) (observed, active int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed[name], c.active
}

// fixture wires a main-app registry and an extension-side channel on one hub.
type fixture struct {
	main      *countingChannel
	extension *channel.MemoryChannel
	registry  *Registry
}

func newFixture(t *testing.T, opts ...RegistryOption) *fixture {
	t.Helper()
	hub := channel.NewHub()
	mainCh, err := channel.NewMemoryChannel(testGroup, channel.WithHub(hub))
	require.NoError(t, err)
	extCh, err := channel.NewMemoryChannel(testGroup, channel.WithHub(hub))
	require.NoError(t, err)
	counting := &countingChannel{MemoryChannel: mainCh, observed: make(map[string]int)}
	f := &fixture{
		main:      counting,
		extension: extCh,
		registry:  NewRegistry(counting, opts...),
	}
	t.Cleanup(func() {
		_ = f.registry.Close()
		_ = mainCh.Close()
		_ = extCh.Close()
	})
	return f
}

func (f *fixture) post(t *testing.T, name Name) {
	t.Helper()
	require.NoError(t, f.extension.Post(context.Background(), string(name)))
}

// callLog records handler invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) handler(label string) Handler {
	return Func(func(ctx context.Context, req Request) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, label)
		return nil
	})
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func settle() { time.Sleep(30 * time.Millisecond) }

func TestRegistry_DeliversToHandler(t *testing.T) {
	f := newFixture(t)

	var (
		mu  sync.Mutex
		got []Request
	)
	h := Func(func(ctx context.Context, req Request) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, req)
		return nil
	})
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))

	f.post(t, AllExtensionEnabledRequest)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	settle()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, AllExtensionEnabledRequest, got[0].Name)
	assert.Equal(t, testGroup, got[0].Namespace)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].ReceivedAt.Before(got[0].PostedAt.Add(-time.Second)))
}

func TestRegistry_DuplicateRegistrationIsNoop(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}
	h := log.handler("a")

	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
	assert.Equal(t, 1, f.registry.Handlers(AllExtensionEnabledRequest))

	f.post(t, AllExtensionEnabledRequest)
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
	settle()
	assert.Equal(t, 1, log.len())
}

func TestRegistry_FanOutInRegistrationOrder(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}

	labels := []string{"first", "second", "third", "fourth"}
	for _, label := range labels {
		require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, log.handler(label)))
	}

	observed, _ := f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 1, observed, "one channel observation per name")

	f.post(t, AllExtensionEnabledRequest)
	require.Eventually(t, func() bool { return log.len() == len(labels) }, time.Second, 5*time.Millisecond)
	settle()
	assert.Equal(t, labels, log.snapshot())
}

func TestRegistry_PostWithoutHandlers(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	go func() {
		f.post(t, AllExtensionEnabledRequest)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post blocked with no handlers")
	}
}

func TestRegistry_UnregisterLastCancelsObservation(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}
	a, b := log.handler("a"), log.handler("b")

	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, a))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, b))

	require.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, a))
	_, active := f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 1, active)

	require.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, b))
	_, active = f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 0, active)
	assert.Empty(t, f.registry.Names())

	require.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, b), "unknown pair is a no-op")

	f.post(t, AllExtensionEnabledRequest)
	settle()
	assert.Equal(t, 0, log.len())
}

func TestRegistry_ReRegisterAfterUnregister(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}
	h := log.handler("a")

	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
	require.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))

	observed, active := f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 2, observed)
	assert.Equal(t, 1, active)

	f.post(t, AllExtensionEnabledRequest)
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_RegistrationSequencesDeliverAtMostOnce(t *testing.T) {
	sequences := [][]bool{ // true = register, false = unregister
		{true},
		{true, true},
		{true, false},
		{false, true},
		{true, false, true},
		{true, true, false},
		{true, false, false, true, true},
		{false, false},
	}
	for _, seq := range sequences {
		f := newFixture(t)
		log := &callLog{}
		h := log.handler("h")
		registered := false
		for _, reg := range seq {
			if reg {
				require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
				registered = true
			} else {
				require.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))
				registered = false
			}
		}

		f.post(t, AllExtensionEnabledRequest)
		settle()
		want := 0
		if registered {
			want = 1
		}
		assert.Equal(t, want, log.len(), "sequence %v", seq)
	}
}

func TestRegistry_HandlerFailuresAreIsolated(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []*HandlerError
	)
	f := newFixture(t, WithErrorReporter(func(herr *HandlerError) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, herr)
	}))
	log := &callLog{}
	errBroken := errors.New("broken")

	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, Func(func(ctx context.Context, req Request) error {
		return errBroken
	})))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, Func(func(ctx context.Context, req Request) error {
		panic("handler exploded")
	})))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, log.handler("survivor")))

	f.post(t, AllExtensionEnabledRequest)
	f.post(t, AllExtensionEnabledRequest)

	require.Eventually(t, func() bool { return log.len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, reported[0], errBroken)
	assert.Contains(t, reported[1].Error(), "handler exploded")
	assert.Equal(t, AllExtensionEnabledRequest, reported[0].Name)
	assert.NotEmpty(t, reported[0].RequestID)
}

func TestRegistry_RequestBeforeListeningIsLost(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}

	f.post(t, AllExtensionEnabledRequest)
	settle()
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, log.handler("late")))
	settle()
	assert.Equal(t, 0, log.len())
}

type sliceHandler []int

func (sliceHandler) HandleRequest(context.Context, Request) error { return nil }

func TestRegistry_RejectsInvalidHandlers(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.registry.Register("", Func(nil)), ErrEmptyName)
	assert.ErrorIs(t, f.registry.Register(AllExtensionEnabledRequest, nil), ErrNilHandler)
	assert.ErrorIs(t, f.registry.Register(AllExtensionEnabledRequest, sliceHandler{1}), ErrHandlerNotComparable)
	assert.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, sliceHandler{1}))
}

// boxHandler is comparable by type but not always by value.
type boxHandler struct{ v any }

func (boxHandler) HandleRequest(context.Context, Request) error { return nil }

func TestRegistry_RejectsHandlersWithUncomparableFields(t *testing.T) {
	f := newFixture(t)

	h := boxHandler{v: []int{1}}
	assert.ErrorIs(t, f.registry.Register(AllExtensionEnabledRequest, h), ErrHandlerNotComparable)
	assert.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))

	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, boxHandler{v: 1}))
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, boxHandler{v: 1}))
	assert.Equal(t, 1, f.registry.Handlers(AllExtensionEnabledRequest))
	assert.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))
	assert.Equal(t, 1, f.registry.Handlers(AllExtensionEnabledRequest))
}

// gatedChannel holds Observe for one name until release is closed.
type gatedChannel struct {
	*countingChannel
	gate    string
	entered chan struct{}
	release chan struct{}
}

func (c *gatedChannel) Observe(name string, fn func(channel.Signal)) (channel.Token, error) {
	if name == c.gate {
		close(c.entered)
		<-c.release
	}
	return c.countingChannel.Observe(name, fn)
}

func newGatedRegistry(t *testing.T, f *fixture, gate Name) (*Registry, *gatedChannel) {
	t.Helper()
	gated := &gatedChannel{
		countingChannel: f.main,
		gate:            string(gate),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	r := NewRegistry(gated)
	t.Cleanup(func() { _ = r.Close() })
	return r, gated
}

func TestRegistry_SlowObserveDoesNotBlockDelivery(t *testing.T) {
	const slow Name = "SlowToObserveRequest"
	f := newFixture(t)
	r, gated := newGatedRegistry(t, f, slow)
	log := &callLog{}

	require.NoError(t, r.Register(AllExtensionEnabledRequest, log.handler("fast")))

	first, second := log.handler("slow-1"), log.handler("slow-2")
	results := make(chan error, 2)
	go func() { results <- r.Register(slow, first) }()
	<-gated.entered
	go func() { results <- r.Register(slow, second) }()

	require.Eventually(t, func() bool { return r.Handlers(slow) == 2 }, time.Second, 5*time.Millisecond)
	f.post(t, AllExtensionEnabledRequest)
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case err := <-results:
		t.Fatalf("registration returned before the observation was set up: %v", err)
	default:
	}

	close(gated.release)
	require.NoError(t, <-results)
	require.NoError(t, <-results)

	observed, _ := f.main.stats(string(slow))
	assert.Equal(t, 1, observed)

	f.post(t, slow)
	require.Eventually(t, func() bool { return log.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"fast", "slow-1", "slow-2"}, log.snapshot())
}

func TestRegistry_UnregisterWhileObserving(t *testing.T) {
	const slow Name = "SlowToObserveRequest"
	f := newFixture(t)
	r, gated := newGatedRegistry(t, f, slow)
	log := &callLog{}
	h := log.handler("slow")

	result := make(chan error, 1)
	go func() { result <- r.Register(slow, h) }()
	<-gated.entered

	require.NoError(t, r.Unregister(slow, h))
	assert.Equal(t, 0, r.Handlers(slow))

	close(gated.release)
	require.NoError(t, <-result)

	observed, active := f.main.stats(string(slow))
	assert.Equal(t, 1, observed)
	assert.Equal(t, 0, active, "late observation is cancelled")

	f.post(t, slow)
	settle()
	assert.Equal(t, 0, log.len())
}

func TestRegistry_ConcurrentRegistrationWhileDelivering(t *testing.T) {
	const (
		workers = 8
		rounds  = 50
	)
	f := newFixture(t)

	var (
		mu        sync.Mutex
		delivered = make(map[string]int) // handler/request id
		perLabel  = make(map[string]int)
	)
	handlers := make([]Handler, workers)
	for i := range handlers {
		label := fmt.Sprintf("h%d", i)
		handlers[i] = Func(func(ctx context.Context, req Request) error {
			mu.Lock()
			defer mu.Unlock()
			delivered[label+"/"+req.ID]++
			perLabel[label]++
			return nil
		})
	}

	stopPosting := make(chan struct{})
	posting := make(chan struct{})
	go func() {
		defer close(posting)
		for {
			select {
			case <-stopPosting:
				return
			default:
			}
			assert.NoError(t, f.extension.Post(context.Background(), string(AllExtensionEnabledRequest)))
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				assert.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
				assert.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))
			}
			assert.NoError(t, f.registry.Register(AllExtensionEnabledRequest, h))
		}(h)
	}
	wg.Wait()
	close(stopPosting)
	<-posting

	assert.Equal(t, workers, f.registry.Handlers(AllExtensionEnabledRequest), "no registration lost")
	_, active := f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 1, active)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	before := make(map[string]int, len(perLabel))
	for label, n := range perLabel {
		before[label] = n
	}
	for key, n := range delivered {
		assert.LessOrEqual(t, n, 1, "duplicate delivery %s", key)
	}
	mu.Unlock()

	f.post(t, AllExtensionEnabledRequest)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < workers; i++ {
			label := fmt.Sprintf("h%d", i)
			if perLabel[label] != before[label]+1 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			assert.NoError(t, f.registry.Unregister(AllExtensionEnabledRequest, h))
		}(h)
	}
	wg.Wait()

	assert.Equal(t, 0, f.registry.Handlers(AllExtensionEnabledRequest))
	assert.Empty(t, f.registry.Names())
	_, active = f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 0, active, "observation cancelled")
}

func TestRegistry_Closed(t *testing.T) {
	f := newFixture(t)
	log := &callLog{}
	require.NoError(t, f.registry.Register(AllExtensionEnabledRequest, log.handler("a")))

	require.NoError(t, f.registry.Close())
	require.NoError(t, f.registry.Close())
	_, active := f.main.stats(string(AllExtensionEnabledRequest))
	assert.Equal(t, 0, active)

	assert.ErrorIs(t, f.registry.Register(AllExtensionEnabledRequest, log.handler("b")), ErrRegistryClosed)

	f.post(t, AllExtensionEnabledRequest)
	settle()
	assert.Equal(t, 0, log.len())
}
