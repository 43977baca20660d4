package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// authServer — тестовый сервис аутентификации и защищённый API.
type authServer struct {
	mu           sync.Mutex
	validToken   string
	refreshToken string
	// rotate — выдавать новый refresh token при обновлении.
	rotate bool
	// refreshStatus — код ответа /auth/refresh (0 — 200).
	refreshStatus int
	// release — если задан, /auth/refresh ждёт закрытия канала.
	release chan struct{}
	// rejectAll — API всегда отвечает 401.
	rejectAll bool

	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		s.handleRefresh(w, r)
	case "/auth/login", "/auth/register":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"at-1","refreshToken":"rt-1","user":{"id":"u-1"}}`))
	default:
		s.apiCalls.Add(1)
		s.mu.Lock()
		ok := !s.rejectAll && r.Header.Get("Authorization") == "Bearer "+s.validToken
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}
}

func (s *authServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.refreshStatus != 0 {
		w.WriteHeader(s.refreshStatus)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	var in refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if in.RefreshToken != s.refreshToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.validToken = "at-fresh"
	out := map[string]string{"accessToken": s.validToken}
	if s.rotate {
		s.refreshToken = "rt-rotated"
		out["refreshToken"] = s.refreshToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

type testEnv struct {
	srv    *httptest.Server
	auth   *authServer
	store  *MemoryStore
	coord  *Coordinator
	client *http.Client
	reg    *prometheus.Registry

	terminated atomic.Int32
}

// newTestEnv создаёт координатор с сохранённой «протухшей» сессией.
func newTestEnv(t *testing.T, auth *authServer, seed Credentials) *testEnv {
	t.Helper()

	srv := httptest.NewServer(auth)
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	if seed.AccessToken != "" {
		if err := store.Save(seed); err != nil {
			t.Fatal(err)
		}
	}

	reg := prometheus.NewRegistry()
	coord, err := NewCoordinator(Config{
		Store:          store,
		Refresher:      NewHTTPRefresher(srv.URL, srv.Client()),
		RefreshTimeout: 5 * time.Second,
		Logger:         testLogger(),
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	env := &testEnv{
		srv:    srv,
		auth:   auth,
		store:  store,
		coord:  coord,
		client: NewTransport(srv.Client().Transport, coord).Client(),
		reg:    reg,
	}
	coord.OnSessionTerminated(func(error) {
		env.terminated.Add(1)
	})
	return env
}

func (e *testEnv) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	return e.client.Do(req)
}

func (c *Coordinator) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// waitFor опрашивает условие до истечения таймаута.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("условие не выполнено за 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func staleSession() Credentials {
	return Credentials{AccessToken: "at-stale", RefreshToken: "rt-1"}
}

func TestTransport_SingleFlightRefresh(t *testing.T) {
	const n = 8
	auth := &authServer{validToken: "at-fresh-not-yet", refreshToken: "rt-1", rotate: true, release: make(chan struct{})}
	env := newTestEnv(t, auth, staleSession())

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			resp, err := env.get(ctx, "/api/v1/roles/user/u-1/permissions")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return errors.New("ожидался 200, получен " + resp.Status)
			}
			return nil
		})
	}

	// Лидер ждёт ответа /auth/refresh, остальные в очереди.
	waitFor(t, func() bool { return env.coord.queueLen() == n-1 })
	if env.coord.State() != StateRefreshing {
		t.Errorf("State() = %s, ожидался refreshing", env.coord.State())
	}
	close(auth.release)

	if err := g.Wait(); err != nil {
		t.Fatalf("запрос завершился ошибкой: %v", err)
	}

	if got := auth.refreshCalls.Load(); got != 1 {
		t.Errorf("вызовов /auth/refresh = %d, ожидался 1", got)
	}
	// n первых попыток + n повторов
	if got := auth.apiCalls.Load(); got != 2*n {
		t.Errorf("запросов к API = %d, ожидалось %d", got, 2*n)
	}
	if env.coord.State() != StateIdle {
		t.Errorf("State() = %s, ожидался idle", env.coord.State())
	}

	stored, err := env.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "at-fresh" || stored.RefreshToken != "rt-rotated" {
		t.Errorf("сохранено %+v, ожидались at-fresh/rt-rotated", stored)
	}
	if env.coord.AccessToken() != "at-fresh" {
		t.Errorf("AccessToken() = %q, ожидался at-fresh", env.coord.AccessToken())
	}

	if got := testutil.ToFloat64(env.coord.metrics.queued); got != n-1 {
		t.Errorf("ac_client_refresh_queued_total = %v, ожидалось %d", got, n-1)
	}
	if got := testutil.ToFloat64(env.coord.metrics.refreshes.WithLabelValues("success")); got != 1 {
		t.Errorf("ac_client_refresh_total{success} = %v, ожидалось 1", got)
	}
	if env.terminated.Load() != 0 {
		t.Error("сессия не должна завершаться")
	}
}

func TestTransport_RefreshFailureRejectsQueue(t *testing.T) {
	const n = 5
	auth := &authServer{validToken: "never", refreshToken: "rt-1", refreshStatus: http.StatusUnauthorized, release: make(chan struct{})}
	env := newTestEnv(t, auth, staleSession())

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.get(context.Background(), "/api/v1/roles/user/u-1")
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}

	waitFor(t, func() bool { return env.coord.queueLen() == n-1 })
	close(auth.release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrRefreshExhausted) {
			t.Errorf("запрос %d: ошибка %v, ожидалась ErrRefreshExhausted", i, err)
		}
	}

	var statusErr *StatusError
	if !errors.As(errs[0], &statusErr) && !errors.As(errs[n-1], &statusErr) {
		t.Error("ожидалась StatusError в цепочке ошибок")
	}

	if got := auth.refreshCalls.Load(); got != 1 {
		t.Errorf("вызовов /auth/refresh = %d, ожидался 1", got)
	}
	if env.coord.State() != StateFailed {
		t.Errorf("State() = %s, ожидался failed", env.coord.State())
	}
	if _, err := env.store.Load(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("хранилище не очищено: %v", err)
	}
	if got := env.terminated.Load(); got != 1 {
		t.Errorf("обработчик завершения вызван %d раз, ожидался 1", got)
	}
	if got := testutil.ToFloat64(env.coord.metrics.terminated.WithLabelValues(reasonRefreshFailed)); got != 1 {
		t.Errorf("ac_client_session_terminated_total{refresh_failed} = %v", got)
	}
}

func TestTransport_NoRefreshTokenTerminatesImmediately(t *testing.T) {
	auth := &authServer{validToken: "other", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, Credentials{AccessToken: "at-stale"})

	_, err := env.get(context.Background(), "/api/v1/roles/user/u-1/permissions")
	if !errors.Is(err, ErrRefreshExhausted) {
		t.Fatalf("ошибка %v, ожидалась ErrRefreshExhausted", err)
	}
	if got := auth.refreshCalls.Load(); got != 0 {
		t.Errorf("вызовов /auth/refresh = %d, ожидалось 0", got)
	}
	if got := env.terminated.Load(); got != 1 {
		t.Errorf("обработчик завершения вызван %d раз, ожидался 1", got)
	}
	if env.coord.State() != StateFailed {
		t.Errorf("State() = %s, ожидался failed", env.coord.State())
	}
}

func TestTransport_RetryLoopGuard(t *testing.T) {
	auth := &authServer{validToken: "at-stale", refreshToken: "rt-1", rejectAll: true}
	env := newTestEnv(t, auth, staleSession())

	_, err := env.get(context.Background(), "/api/v1/roles")
	if !errors.Is(err, ErrRetryLoopGuard) {
		t.Fatalf("ошибка %v, ожидалась ErrRetryLoopGuard", err)
	}
	if !errors.Is(err, ErrRefreshExhausted) {
		t.Error("ErrRetryLoopGuard должна быть ErrRefreshExhausted")
	}
	if got := auth.refreshCalls.Load(); got != 1 {
		t.Errorf("вызовов /auth/refresh = %d, ожидался 1", got)
	}
	if got := auth.apiCalls.Load(); got != 2 {
		t.Errorf("запросов к API = %d, ожидалось 2 (исходный и один повтор)", got)
	}
	if env.coord.State() != StateFailed {
		t.Errorf("State() = %s, ожидался failed", env.coord.State())
	}
}

func TestTransport_MarkedRequestIsNotRetried(t *testing.T) {
	auth := &authServer{validToken: "other", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, staleSession())

	_, err := env.get(MarkRetried(context.Background()), "/api/v1/roles")
	if !errors.Is(err, ErrRetryLoopGuard) {
		t.Fatalf("ошибка %v, ожидалась ErrRetryLoopGuard", err)
	}
	if got := auth.refreshCalls.Load(); got != 0 {
		t.Errorf("вызовов /auth/refresh = %d, ожидалось 0", got)
	}
}

func TestTransport_ReplaysBody(t *testing.T) {
	auth := &authServer{validToken: "other", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, staleSession())

	// Тело без GetBody буферизуется транспортом
	body := io.NopCloser(strings.NewReader(`{"roleId":"r-1"}`))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, env.srv.URL+"/api/v1/roles/user/u-1", body)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	if string(got) != `{"roleId":"r-1"}` {
		t.Errorf("тело повтора = %q", got)
	}
	if auth.refreshCalls.Load() != 1 {
		t.Errorf("вызовов /auth/refresh = %d, ожидался 1", auth.refreshCalls.Load())
	}
}

func TestTransport_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	auth := &authServer{validToken: "other", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, staleSession())

	resp, err := env.get(context.Background(), "/api/v1/roles")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	creds := env.coord.Credentials()
	if creds.AccessToken != "at-fresh" || creds.RefreshToken != "rt-1" {
		t.Errorf("учётные данные %+v, ожидались at-fresh/rt-1", creds)
	}
}

func TestTransport_TokenAlreadyRotated(t *testing.T) {
	auth := &authServer{validToken: "at-new", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, Credentials{AccessToken: "at-new", RefreshToken: "rt-1"})

	// 401 пришёл на запрос со старым токеном, а координатор уже держит новый.
	token, err := env.coord.awaitRefresh("at-old")
	if err != nil {
		t.Fatal(err)
	}
	if token != "at-new" {
		t.Errorf("token = %q, ожидался at-new", token)
	}
	if auth.refreshCalls.Load() != 0 {
		t.Error("обновление не должно выполняться")
	}
}

func TestTransport_FailedSessionShortCircuits(t *testing.T) {
	auth := &authServer{validToken: "other", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, Credentials{AccessToken: "at-stale"})

	if _, err := env.get(context.Background(), "/api/v1/roles"); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	calls := auth.apiCalls.Load()

	if _, err := env.get(context.Background(), "/api/v1/roles"); !errors.Is(err, ErrRefreshExhausted) {
		t.Errorf("ошибка %v, ожидалась ErrRefreshExhausted", err)
	}
	if auth.apiCalls.Load() != calls {
		t.Error("завершённая сессия не должна отправлять запросы")
	}

	// Новый вход возвращает координатор в idle
	if err := env.coord.Seed(Credentials{AccessToken: "other", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	if env.coord.State() != StateIdle {
		t.Errorf("State() = %s, ожидался idle", env.coord.State())
	}
	resp, err := env.get(context.Background(), "/api/v1/roles")
	if err != nil {
		t.Fatalf("запрос после Seed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("статус %d, ожидался 200", resp.StatusCode)
	}
}

func TestCoordinator_Logout(t *testing.T) {
	auth := &authServer{validToken: "at-stale", refreshToken: "rt-1"}
	env := newTestEnv(t, auth, staleSession())

	if err := env.coord.Logout(); err != nil {
		t.Fatal(err)
	}
	if env.coord.State() != StateFailed {
		t.Errorf("State() = %s, ожидался failed", env.coord.State())
	}
	if _, err := env.store.Load(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("хранилище не очищено: %v", err)
	}
	if env.terminated.Load() != 0 {
		t.Error("Logout не вызывает обработчик завершения")
	}
}

func TestCoordinator_SeedResumesPendingQueue(t *testing.T) {
	auth := &authServer{validToken: "never", refreshToken: "rt-1", release: make(chan struct{})}
	env := newTestEnv(t, auth, staleSession())

	leader := make(chan error, 1)
	go func() {
		_, err := env.coord.awaitRefresh("at-stale")
		leader <- err
	}()
	waitFor(t, func() bool { return env.coord.State() == StateRefreshing })

	waiter := make(chan string, 1)
	go func() {
		token, _ := env.coord.awaitRefresh("at-stale")
		waiter <- token
	}()
	waitFor(t, func() bool { return env.coord.queueLen() == 1 })

	if err := env.coord.Seed(Credentials{AccessToken: "at-login", RefreshToken: "rt-9"}); err != nil {
		t.Fatal(err)
	}
	if got := <-waiter; got != "at-login" {
		t.Errorf("ожидающий получил %q, ожидался at-login", got)
	}

	close(auth.release)
	if err := <-leader; err != nil {
		t.Errorf("лидер: %v", err)
	}
	// Результат устаревшего обновления не перезаписывает новую сессию
	if env.coord.AccessToken() != "at-login" {
		t.Errorf("AccessToken() = %q, ожидался at-login", env.coord.AccessToken())
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	if _, err := NewCoordinator(Config{Refresher: NewHTTPRefresher("http://x", nil)}); err == nil {
		t.Error("ожидалась ошибка без хранилища")
	}
	if _, err := NewCoordinator(Config{Store: NewMemoryStore()}); err == nil {
		t.Error("ожидалась ошибка без refresher")
	}
	if err := (&Coordinator{}).Seed(Credentials{}); err == nil {
		t.Error("ожидалась ошибка для пустого access token")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateRefreshing: "refreshing",
		StateFailed:     "failed",
		State(9):        "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, ожидалось %q", got, want)
		}
	}
}
