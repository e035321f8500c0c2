package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"todoagent/internal/storage"
)

func TestClientRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	items, err := c.ListTodos(ctx)
	if err != nil || items == nil || len(items) != 0 {
		t.Fatalf("ListTodos=%v err=%v, want empty non-nil", items, err)
	}

	created, err := c.CreateTodo(ctx, "write tests")
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	if created.ID != 1 || created.Title != "write tests" {
		t.Fatalf("created=%+v", created)
	}

	done := true
	updated, err := c.UpdateTodo(ctx, created.ID, storage.TodoPatch{Completed: &done})
	if err != nil || !updated.Completed {
		t.Fatalf("UpdateTodo=%+v err=%v", updated, err)
	}

	if err := c.DeleteTodo(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	err = c.DeleteTodo(ctx, created.ID)
	if !IsNotFound(err) {
		t.Fatalf("second DeleteTodo err=%v, want not found", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Todo not found" {
		t.Fatalf("StatusError=%+v", se)
	}
}

func TestClientValidationError(t *testing.T) {
	srv := newTestServer(t)
	_, err := NewClient(srv.URL, time.Second).CreateTodo(context.Background(), "")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest || se.Message != "Title is required" {
		t.Fatalf("err=%v, want 400 Title is required", err)
	}
	if IsNotFound(err) {
		t.Fatal("400 should not be reported as not found")
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := c.ListTodos(context.Background()); err == nil {
		t.Fatal("expected transport error")
	}
}
