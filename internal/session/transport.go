package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// retriedKey — маркер «запрос уже повторён после обновления токена».
type retriedKey struct{}

// MarkRetried помечает контекст запроса как уже повторённый.
func MarkRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// Retried сообщает, повторялся ли запрос с этим контекстом.
func Retried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// Transport — http.RoundTripper, подставляющий Bearer token сессии
// и прозрачно повторяющий запрос после обновления токена.
type Transport struct {
	base  http.RoundTripper
	coord *Coordinator
}

// NewTransport оборачивает base (nil — http.DefaultTransport).
func NewTransport(base http.RoundTripper, coord *Coordinator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, coord: coord}
}

// Client возвращает http.Client поверх Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip реализует http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.coord.State() == StateFailed {
		closeBody(req)
		return nil, ErrRefreshExhausted
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	token := t.coord.AccessToken()
	resp, err := t.send(req.Context(), req, getBody, token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	if Retried(req.Context()) {
		t.coord.terminate(ErrRetryLoopGuard, reasonRetryLoop)
		return nil, ErrRetryLoopGuard
	}

	fresh, err := t.coord.awaitRefresh(token)
	if err != nil {
		return nil, err
	}

	resp, err = t.send(MarkRetried(req.Context()), req, getBody, fresh)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	t.coord.terminate(ErrRetryLoopGuard, reasonRetryLoop)
	return nil, ErrRetryLoopGuard
}

// send отправляет копию запроса с указанным контекстом и токеном.
func (t *Transport) send(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error), token string) (*http.Response, error) {
	out := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("подготовка тела запроса: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return t.base.RoundTrip(out)
}

// replayableBody возвращает фабрику тела запроса для повторной отправки.
// nil — у запроса нет тела.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("чтение тела запроса: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
