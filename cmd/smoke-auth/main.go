package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"daypack.app/internal/authclient"
	"daypack.app/internal/dashboard"
)

func main() {
	base := os.Getenv("DAYPACK_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	username := os.Getenv("DAYPACK_SMOKE_USER")
	if username == "" {
		username = "demo"
	}
	password := os.Getenv("DAYPACK_SMOKE_PASSWORD")
	if password == "" {
		password = "daypack-demo"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: 10 * time.Second}

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

	state, err := session.Probe(ctx, true)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	if state != authclient.StateAnonymous {
		log.Fatalf("expected anonymous before login, got %s", state)
	}

	identity, err := session.Login(ctx, username, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	api, err := dashboard.NewClient(sender, base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	task, err := api.CreateTask(ctx, fmt.Sprintf("smoke %d", time.Now().Unix()), "created by smoke-auth")
	if err != nil {
		log.Fatalf("create task: %v", err)
	}
	done, err := api.CompleteTask(ctx, task.ID)
	if err != nil {
		log.Fatalf("complete task: %v", err)
	}
	if !done.Done {
		log.Fatalf("task %s not marked done", task.ID)
	}

	list, err := api.ListTasks(ctx)
	if err != nil {
		log.Fatalf("list tasks: %v", err)
	}
	found := false
	for _, t := range list {
		if t.ID == task.ID {
			found = true
		}
	}
	if !found {
		log.Fatalf("task %s missing from list", task.ID)
	}

	session.Logout(ctx)
	state, err = session.Probe(ctx, true)
	if err != nil {
		log.Fatalf("probe after logout: %v", err)
	}
	if state != authclient.StateAnonymous {
		log.Fatalf("expected anonymous after logout, got %s", state)
	}

	fmt.Printf("✅ auth smoke test passed: user=%s task=%s\n", identity.Username, task.ID)
}
