package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// CallbackPaths are the redirect paths the callback server answers on.
var CallbackPaths = []string{"/auth/callback", "/callback"}

const callbackPage = `<!DOCTYPE html>
<html><head><title>concord</title></head>
<body><h3>%s</h3><p>You can close this window and return to the terminal.</p></body></html>`

type callbackResult struct {
	code string
	err  error
}

// callbackServer is a single-use localhost listener for one browser login.
type callbackServer struct {
	provider string
	state    string
	listener net.Listener
	server   *http.Server
	result   chan callbackResult
	once     sync.Once
}

// newCallbackServer binds 127.0.0.1:port (0 picks a free port).
func newCallbackServer(provider, state string, port int) (*callbackServer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, errors.NewOAuthError(provider, "callback_bind",
			fmt.Sprintf("cannot listen on port %d", port)).WithCause(err)
	}

	cs := &callbackServer{
		provider: provider,
		state:    state,
		listener: ln,
		result:   make(chan callbackResult, 1),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, path := range CallbackPaths {
		r.Get(path, cs.handleCallback)
	}
	cs.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return cs, nil
}

// RedirectURL returns the redirect URI registered with the provider.
func (cs *callbackServer) RedirectURL() string {
	port := cs.listener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d%s", port, CallbackPaths[0])
}

func (cs *callbackServer) start() {
	go func() {
		_ = cs.server.Serve(cs.listener)
	}()
}

func (cs *callbackServer) deliver(res callbackResult) {
	cs.once.Do(func() {
		cs.result <- res
	})
}

func (cs *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if code := q.Get("error"); code != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = "authorization denied"
		}
		cs.deliver(callbackResult{err: errors.NewOAuthError(cs.provider, code, msg)})
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, callbackPage, "Login failed")
		return
	}

	if q.Get("state") != cs.state {
		cs.deliver(callbackResult{err: errors.NewOAuthError(cs.provider, "state_mismatch",
			"callback state does not match the login request")})
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, callbackPage, "Login failed")
		return
	}

	code := q.Get("code")
	if code == "" {
		cs.deliver(callbackResult{err: errors.NewOAuthError(cs.provider, "missing_code",
			"callback carried no authorization code")})
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, callbackPage, "Login failed")
		return
	}

	cs.deliver(callbackResult{code: code})
	_, _ = fmt.Fprintf(w, callbackPage, "Login complete")
}

// wait blocks until a callback arrives, the timeout elapses or ctx ends.
func (cs *callbackServer) wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-cs.result:
		return res.code, res.err
	case <-timer.C:
		return "", errors.NewOAuthError(cs.provider, "timeout",
			fmt.Sprintf("no callback received within %s", timeout))
	case <-ctx.Done():
		return "", errors.NewOAuthError(cs.provider, "canceled", "login canceled").WithCause(ctx.Err())
	}
}

func (cs *callbackServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cs.server.Shutdown(ctx)
}
