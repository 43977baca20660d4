// Пакет session — клиентская сессия покупателя витрины.
// Координатор обновления access token: при 401 выполняется ровно один
// POST /auth/refresh, остальные запросы ждут в FIFO-очереди и повторяются
// с новым токеном. Если обновление невозможно, сессия завершается.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultRefreshTimeout — таймаут вызова обновления по умолчанию.
const DefaultRefreshTimeout = 15 * time.Second

// State — состояние координатора.
type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Причины завершения сессии (метка reason).
const (
	reasonNoRefreshToken = "no_refresh_token"
	reasonRefreshFailed  = "refresh_failed"
	reasonRetryLoop      = "retry_loop"
	reasonStoreFailed    = "store_failed"
)

// Refresher — вызов сервиса аутентификации для обмена refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// Config — параметры координатора.
type Config struct {
	Store     TokenStore
	Refresher Refresher
	// RefreshTimeout — таймаут одного обновления (0 — DefaultRefreshTimeout).
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	// Registerer — регистрация метрик (nil — метрики не регистрируются).
	Registerer prometheus.Registerer
}

type coordinatorMetrics struct {
	refreshes  *prometheus.CounterVec
	queued     prometheus.Counter
	terminated *prometheus.CounterVec
}

func newCoordinatorMetrics(reg prometheus.Registerer) *coordinatorMetrics {
	factory := promauto.With(reg)
	return &coordinatorMetrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ac_client_refresh_total",
			Help: "Количество обновлений access token по результату",
		}, []string{"result"}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Name: "ac_client_refresh_queued_total",
			Help: "Количество запросов, ожидавших обновления токена в очереди",
		}),
		terminated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ac_client_session_terminated_total",
			Help: "Количество принудительно завершённых сессий по причине",
		}, []string{"reason"}),
	}
}

// refreshResult — итог обновления для ожидающего запроса.
type refreshResult struct {
	token string
	err   error
}

// Coordinator — single-flight обновление access token для всех запросов сессии.
type Coordinator struct {
	store     TokenStore
	refresher Refresher
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *coordinatorMetrics

	mu sync.Mutex
	// refreshing — флаг «обновление уже выполняется».
	refreshing bool
	failed     bool
	creds      Credentials
	// queue — ожидающие запросы в порядке поступления.
	queue []chan refreshResult
	// epoch увеличивается при Seed/Logout/завершении; результат
	// обновления из прошлой эпохи отбрасывается.
	epoch        uint64
	onTerminated []func(error)
}

// NewCoordinator создаёт координатор и восстанавливает сессию из хранилища.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("не задано хранилище учётных данных")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("не задан refresher")
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "session_coordinator")),
		metrics:   newCoordinatorMetrics(cfg.Registerer),
	}

	creds, err := cfg.Store.Load()
	switch {
	case err == nil:
		c.creds = creds
	case errors.Is(err, ErrNoCredentials):
	default:
		return nil, fmt.Errorf("загрузка сессии: %w", err)
	}

	return c, nil
}

// OnSessionTerminated регистрирует обработчик завершения сессии
// (например, переход на страницу входа). Вызывается вне блокировки.
func (c *Coordinator) OnSessionTerminated(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTerminated = append(c.onTerminated, fn)
}

// Seed начинает новую сессию с данными из login/register.
func (c *Coordinator) Seed(creds Credentials) error {
	if creds.AccessToken == "" {
		return errors.New("пустой access token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(creds); err != nil {
		return fmt.Errorf("сохранение сессии: %w", err)
	}
	c.epoch++
	c.creds = creds
	c.failed = false
	// Обновление, начатое до входа, больше не актуально: очередь получает новый токен.
	for _, ch := range c.queue {
		ch <- refreshResult{token: creds.AccessToken}
	}
	c.queue = nil
	c.refreshing = false
	c.logger.Debug("Сессия инициализирована")
	return nil
}

// Logout завершает сессию по инициативе пользователя (без обработчиков завершения).
func (c *Coordinator) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rejectQueueLocked(ErrRefreshExhausted)
	c.epoch++
	c.creds = Credentials{}
	c.failed = true
	c.refreshing = false
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("очистка сессии: %w", err)
	}
	c.logger.Info("Сессия завершена пользователем")
	return nil
}

// State возвращает текущее состояние координатора.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.refreshing:
		return StateRefreshing
	case c.failed:
		return StateFailed
	default:
		return StateIdle
	}
}

// AccessToken возвращает текущий access token (пустая строка — нет сессии).
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.AccessToken
}

// Credentials возвращает копию текущих учётных данных.
func (c *Coordinator) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// awaitRefresh вызывается при 401 на запрос, отправленный с staleToken.
// Первый вызывающий выполняет обновление, остальные ждут в очереди.
// Возвращает новый access token для повтора запроса.
func (c *Coordinator) awaitRefresh(staleToken string) (string, error) {
	c.mu.Lock()

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.queue = append(c.queue, ch)
		c.metrics.queued.Inc()
		c.logger.Debug("Запрос поставлен в очередь обновления",
			slog.Int("queue_len", len(c.queue)),
		)
		c.mu.Unlock()

		res := <-ch
		return res.token, res.err
	}

	if c.failed {
		c.mu.Unlock()
		return "", ErrRefreshExhausted
	}

	// Токен уже обновлён другим запросом после отправки этого.
	if c.creds.AccessToken != "" && c.creds.AccessToken != staleToken {
		token := c.creds.AccessToken
		c.mu.Unlock()
		return token, nil
	}

	refreshToken := c.creds.RefreshToken
	if refreshToken == "" {
		hooks := c.terminateLocked(ErrRefreshExhausted, reasonNoRefreshToken)
		c.mu.Unlock()
		c.notify(hooks, ErrRefreshExhausted)
		return "", ErrRefreshExhausted
	}

	c.refreshing = true
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Debug("Обновление access token")
	return c.refresh(epoch, refreshToken)
}

// refresh выполняет обновление с собственным таймаутом, не зависящим
// от контекста запроса-инициатора, и завершает цикл.
func (c *Coordinator) refresh(epoch uint64, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	fresh, refreshErr := c.refresher.Refresh(ctx, refreshToken)
	if refreshErr == nil && fresh.AccessToken == "" {
		refreshErr = errors.New("сервис аутентификации вернул пустой access token")
	}

	c.mu.Lock()

	if epoch != c.epoch {
		// Сессия сменилась (Seed/Logout/завершение) во время обновления.
		token, failed := c.creds.AccessToken, c.failed
		c.mu.Unlock()
		if failed || token == "" {
			return "", ErrRefreshExhausted
		}
		return token, nil
	}

	if refreshErr != nil {
		c.metrics.refreshes.WithLabelValues("failure").Inc()
		err := fmt.Errorf("%w: %w", ErrRefreshExhausted, refreshErr)
		hooks := c.terminateLocked(err, reasonRefreshFailed)
		c.mu.Unlock()
		c.notify(hooks, err)
		return "", err
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	if fresh.User == nil {
		fresh.User = c.creds.User
	}

	// 1. Сохраняем новые учётные данные
	if err := c.store.Save(fresh); err != nil {
		c.metrics.refreshes.WithLabelValues("failure").Inc()
		err = fmt.Errorf("%w: сохранение сессии: %w", ErrRefreshExhausted, err)
		hooks := c.terminateLocked(err, reasonStoreFailed)
		c.mu.Unlock()
		c.notify(hooks, err)
		return "", err
	}
	// 2. Токен по умолчанию для новых запросов
	c.creds = fresh
	// 3-4. Возобновляем очередь в порядке поступления и очищаем её
	for _, ch := range c.queue {
		ch <- refreshResult{token: fresh.AccessToken}
	}
	resumed := len(c.queue)
	c.queue = nil
	// 5. Сбрасываем флаг
	c.refreshing = false
	c.mu.Unlock()

	c.metrics.refreshes.WithLabelValues("success").Inc()
	c.logger.Info("Access token обновлён",
		slog.Int("resumed", resumed),
	)
	return fresh.AccessToken, nil
}

// terminate завершает сессию немедленно, без очереди.
func (c *Coordinator) terminate(err error, reason string) {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return
	}
	hooks := c.terminateLocked(err, reason)
	c.mu.Unlock()
	c.notify(hooks, err)
}

// terminateLocked отклоняет очередь, очищает хранилище и переводит
// координатор в StateFailed. Возвращает обработчики для вызова вне блокировки.
func (c *Coordinator) terminateLocked(err error, reason string) []func(error) {
	c.rejectQueueLocked(err)
	c.epoch++
	c.creds = Credentials{}
	c.failed = true
	c.refreshing = false

	if clearErr := c.store.Clear(); clearErr != nil {
		c.logger.Error("Ошибка очистки сохранённой сессии",
			slog.String("error", clearErr.Error()),
		)
	}

	c.metrics.terminated.WithLabelValues(reason).Inc()
	c.logger.Warn("Сессия завершена",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	hooks := make([]func(error), len(c.onTerminated))
	copy(hooks, c.onTerminated)
	return hooks
}

func (c *Coordinator) rejectQueueLocked(err error) {
	for _, ch := range c.queue {
		ch <- refreshResult{err: err}
	}
	c.queue = nil
}

func (c *Coordinator) notify(hooks []func(error), err error) {
	for _, fn := range hooks {
		fn(err)
	}
}
