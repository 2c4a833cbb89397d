package selector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// parseCases is shared with the engine tests so the Go and JS parsers are
// checked against the same table.
var parseCases = []struct {
	name     string
	selector string
	want     Query
}{
	{"bare token", "abc123", Query{DefaultAttribute, "abc123"}},
	{"bare token with spaces", "  abc123 ", Query{DefaultAttribute, "abc123"}},
	{"bare quoted token", `"abc123"`, Query{DefaultAttribute, "abc123"}},
	{"explicit attribute", "data-testid=submit", Query{"data-testid", "submit"}},
	{"spaces around equals", " data-testid = submit ", Query{"data-testid", "submit"}},
	{"double quoted value", `data-testid="submit"`, Query{"data-testid", "submit"}},
	{"single quoted value", `data-testid='submit'`, Query{"data-testid", "submit"}},
	{"mixed quotes", `data-testid='submit"`, Query{"data-testid", "submit"}},
	{"splits at first equals", "data-expr=a=b", Query{"data-expr", "a=b"}},
	{"empty value", "data-flag=", Query{"data-flag", ""}},
	{"only one quote pair stripped", `name=""x""`, Query{"name", `"x"`}},
}

func TestParse(t *testing.T) {
	for _, tc := range parseCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Parse(tc.selector))
		})
	}
}

func TestExpressionAndInstallScript(t *testing.T) {
	assert.Equal(t,
		`globalThis.__stagehandEngines__["stagehand"].query(document, "abc\"123")`,
		Expression(`abc"123`, false))
	assert.Equal(t,
		`globalThis.__stagehandEngines__["stagehand"].queryAll(document, "data-k=v")`,
		Expression("data-k=v", true))

	script := InstallScript("demo", " ({}) \n")
	assert.Equal(t,
		`(globalThis.__stagehandEngines__ = globalThis.__stagehandEngines__ || {})["demo"] = ({});`,
		script)
}

func TestHelperScriptIsGuarded(t *testing.T) {
	s := HelperScript()
	assert.Contains(t, s, "if (!globalThis.__stagehandInjected)")
	assert.Contains(t, s, "attachShadow")
	assert.Contains(t, s, OverlayAttribute)
}

// -- Registration --

type mockHost struct {
	mock.Mock
}

func (m *mockHost) RegisterSelectorEngine(ctx context.Context, name, source string) error {
	args := m.Called(ctx, name, source)
	return args.Error(0)
}

func TestRegistry_RegistersOnce(t *testing.T) {
	ctx := context.Background()
	host := new(mockHost)
	host.On("RegisterSelectorEngine", ctx, EngineName, Source()).Return(nil).Once()

	reg := &Registry{}
	assert.False(t, reg.Registered())

	first, err := reg.Register(ctx, host)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := reg.Register(ctx, host)
	require.NoError(t, err)
	assert.False(t, second, "second registration must be a no-op")
	assert.True(t, reg.Registered())

	host.AssertExpectations(t)
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	host := new(mockHost)
	host.On("RegisterSelectorEngine", ctx, EngineName, Source()).Return(nil).Once()

	reg := &Registry{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.Register(ctx, host)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	host.AssertNumberOfCalls(t, "RegisterSelectorEngine", 1)
}

func TestRegistry_FailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("target closed")
	host := new(mockHost)
	host.On("RegisterSelectorEngine", ctx, EngineName, Source()).Return(boom).Once()

	reg := &Registry{}
	ok, err := reg.Register(ctx, host)
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)

	ok, err = reg.Register(ctx, host)
	assert.False(t, ok)
	assert.NoError(t, err)
	host.AssertExpectations(t)
}

// slowHost holds registration open until release is closed and remembers
// which engines it has stored.
type slowHost struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	stored map[string]bool
}

func (h *slowHost) RegisterSelectorEngine(_ context.Context, name, _ string) error {
	close(h.entered)
	<-h.release
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stored[name] = true
	return nil
}

func (h *slowHost) has(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stored[name]
}

func TestRegistry_LaterCallersWaitForRegistration(t *testing.T) {
	ctx := context.Background()
	host := &slowHost{entered: make(chan struct{}), release: make(chan struct{}), stored: map[string]bool{}}
	reg := &Registry{}

	firstDone := make(chan bool)
	go func() {
		ok, err := reg.Register(ctx, host)
		assert.NoError(t, err)
		firstDone <- ok
	}()
	<-host.entered

	type result struct {
		ok      bool
		visible bool
	}
	secondDone := make(chan result)
	go func() {
		ok, err := reg.Register(ctx, host)
		assert.NoError(t, err)
		secondDone <- result{ok: ok, visible: host.has(EngineName)}
	}()

	select {
	case <-secondDone:
		t.Fatal("second Register returned while the first was still registering")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, reg.Registered(), "the flag is set before the host call")

	close(host.release)
	assert.True(t, <-firstDone)
	second := <-secondDone
	assert.False(t, second.ok)
	assert.True(t, second.visible, "the engine is stored by the time a later caller returns")
}
