// Command authdemo runs the reference backend in-process and drives the
// authenticated-request pipeline against it, printing what the token cache
// and the session controller do under concurrency.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"daypack.app/internal/auth"
	"daypack.app/internal/authclient"
	"daypack.app/internal/dashboard"
	"daypack.app/internal/httpapi"
	"daypack.app/internal/obs"
	"daypack.app/internal/tasks"
)

// countingTransport counts hits against the token endpoint so the demo can
// show that concurrent EnsureToken calls collapse into one acquisition.
type countingTransport struct {
	next       http.RoundTripper
	tokenCalls atomic.Int64
}

func (t *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && req.URL.Path == "/v1/auth/csrf" {
		t.tokenCalls.Add(1)
	}
	return t.next.RoundTrip(req)
}

func main() {
	log.SetFlags(0)
	obs.Init()

	base, shutdown, err := startBackend()
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer shutdown()

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	transport := &countingTransport{next: http.DefaultTransport}
	httpClient := &http.Client{Jar: jar, Transport: transport, Timeout: 10 * time.Second}

	tokens, err := authclient.NewAcquirer(httpClient, base)
	if err != nil {
		log.Fatalf("acquirer: %v", err)
	}
	sender := authclient.NewSender(httpClient, tokens)
	session, err := authclient.NewController(sender, tokens, base)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	demoDedup(ctx, tokens, transport)
	demoLoginRotation(ctx, session, tokens, transport)
	demoConcurrentWrites(ctx, sender, base)

	session.Logout(ctx)
	fmt.Println("done")
}

func startBackend() (string, func(), error) {
	store := auth.NewMemoryStore()
	hash, err := auth.HashPassword("authdemo")
	if err != nil {
		return "", nil, err
	}
	err = store.Create(context.Background(), &auth.User{
		Username:     "demo",
		Email:        "demo@daypack.app",
		Name:         "Demo User",
		PasswordHash: hash,
	})
	if err != nil {
		return "", nil, err
	}
	svc, err := auth.NewService(store, "authdemo-secret-authdemo-secret")
	if err != nil {
		return "", nil, err
	}
	api := httpapi.New(httpapi.ReadyProbe{}, "authdemo", svc, tasks.NewInMemory())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: api.Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("serve: %v", err)
		}
	}()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String(), shutdown, nil
}

// demoDedup fires 16 concurrent EnsureToken calls against a cold cache and
// reports how many hit the network.
func demoDedup(ctx context.Context, tokens *authclient.Acquirer, transport *countingTransport) {
	before := transport.tokenCalls.Load()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := tokens.EnsureToken(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("ensure token: %v", err)
	}
	fmt.Printf("dedup: 16 concurrent EnsureToken calls, %d network acquisition(s)\n",
		transport.tokenCalls.Load()-before)
}

func demoLoginRotation(ctx context.Context, session *authclient.Controller, tokens *authclient.Acquirer, transport *countingTransport) {
	pre, _ := tokens.CachedToken()

	if _, err := session.Login(ctx, "demo", "authdemo"); err != nil {
		log.Fatalf("login: %v", err)
	}
	post, _ := tokens.CachedToken()
	fmt.Printf("login: token rotated=%v, total token fetches=%d\n",
		pre != post, transport.tokenCalls.Load())
}

// demoConcurrentWrites creates tasks from several goroutines through one
// sender to show the shared token survives concurrent mutating traffic.
func demoConcurrentWrites(ctx context.Context, sender *authclient.Sender, base string) {
	api, err := dashboard.NewClient(sender, base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	// Stays inside the backend's per-IP rate budget.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(6)
	var created atomic.Int64
	for i := 0; i < 12; i++ {
		i := i
		g.Go(func() error {
			task, err := api.CreateTask(gctx, fmt.Sprintf("demo task %d", i), "")
			if err != nil {
				return err
			}
			if _, err := api.CompleteTask(gctx, task.ID); err != nil {
				return err
			}
			created.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "concurrent writes: %v\n", err)
		os.Exit(1)
	}
	list, err := api.ListTasks(ctx)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	fmt.Printf("writes: %d tasks created and completed, %d listed\n", created.Load(), len(list))
}
