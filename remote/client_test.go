// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mobilenotes/tasksync/internal/auth"
	"github.com/mobilenotes/tasksync/node"
)

const bootstrapPage = `<html><head><script type="text/javascript">
_setup({"v":8,"t":{"lists":[{"id":"list:1","name":"[MobileNotes]Default","last_modified":10}]}})}</script>
</head></html>`

type postedRequest struct {
	ActionList    []json.RawMessage `json:"action_list"`
	ClientVersion int64             `json:"client_version"`
}

func decodePost(t *testing.T, r *http.Request) postedRequest {
	t.Helper()
	require.NoError(t, r.ParseForm())
	var req postedRequest
	require.NoError(t, json.Unmarshal([]byte(r.PostFormValue("r")), &req))
	return req
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL: srv.URL,
		Tokens:  auth.StaticToken("token-1"),
		Logger:  slog.Default(),
	})
	require.NoError(t, err)
	return c
}

func TestLoginParsesSessionBlob(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		gotAuth = r.URL.Query().Get("auth")
		fmt.Fprint(w, bootstrapPage)
	}))

	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, "token-1", gotAuth)
	require.Equal(t, int64(8), c.ClientVersion())

	lists, err := c.ListLists(context.Background())
	require.NoError(t, err)
	require.Len(t, lists, 1)
	require.Equal(t, "list:1", lists[0].ID)
	require.Equal(t, "[MobileNotes]Default", lists[0].Name)
	require.Equal(t, int64(10), lists[0].LastModified)
}

func TestLoginReusesRecentSession(t *testing.T) {
	logins := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins++
		fmt.Fprint(w, bootstrapPage)
	}))

	require.NoError(t, c.Login(context.Background()))
	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, 1, logins)
}

func TestLoginFallsBackForCustomDomains(t *testing.T) {
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bootstrapPage)
	}))
	t.Cleanup(fallback.Close)
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>nothing to see</html>")
	}))
	t.Cleanup(primary.Close)

	c, err := NewClient(Config{
		BaseURL:     primary.URL,
		FallbackURL: fallback.URL,
		Tokens:      auth.StaticToken("token-1"),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, int64(8), c.ClientVersion())
}

func TestOperationsRequireLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	_, err := c.ListTasks(context.Background(), "list:1")
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestCreateTaskAssignsNewID(t *testing.T) {
	var created node.Action
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, bootstrapPage)
			return
		}
		req := decodePost(t, r)
		require.Equal(t, int64(8), req.ClientVersion)
		require.Len(t, req.ActionList, 1)
		require.NoError(t, json.Unmarshal(req.ActionList[0], &created))
		fmt.Fprint(w, `{"results":[{"new_id":"td:77"}]}`)
	}))
	require.NoError(t, c.Login(context.Background()))

	parent := &node.List{Node: node.Node{RemoteID: "list:1"}}
	task := &node.Task{Node: node.Node{Name: "hello"}}
	parent.AddChild(task)
	require.NoError(t, c.CreateTask(context.Background(), task, parent))

	require.Equal(t, "td:77", task.RemoteID)
	require.Equal(t, node.ActionTypeCreate, created.ActionType)
	require.Equal(t, "list:1", created.ListID)
	require.Equal(t, node.EntityTypeTask, created.Entity.EntityType)
}

func TestUpdateQueueAutoFlushes(t *testing.T) {
	var batches [][]json.RawMessage
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, bootstrapPage)
			return
		}
		batches = append(batches, decodePost(t, r).ActionList)
		fmt.Fprint(w, `{"results":[]}`)
	}))
	require.NoError(t, c.Login(context.Background()))

	for i := 0; i < 11; i++ {
		task := &node.Task{Node: node.Node{RemoteID: fmt.Sprintf("td:%d", i), Name: "n"}}
		require.NoError(t, c.EnqueueUpdate(context.Background(), task))
	}
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 11)
	require.Zero(t, c.PendingUpdates())

	task := &node.Task{Node: node.Node{RemoteID: "td:last", Name: "n"}}
	require.NoError(t, c.EnqueueUpdate(context.Background(), task))
	require.Equal(t, 1, c.PendingUpdates())
	require.NoError(t, c.FlushUpdates(context.Background()))
	require.Len(t, batches, 2)
	require.Zero(t, c.PendingUpdates())
}

func TestDeleteFlushesQueuedUpdatesFirst(t *testing.T) {
	var batches [][]node.Action
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, bootstrapPage)
			return
		}
		var batch []node.Action
		for _, raw := range decodePost(t, r).ActionList {
			var a node.Action
			require.NoError(t, json.Unmarshal(raw, &a))
			batch = append(batch, a)
		}
		batches = append(batches, batch)
		fmt.Fprint(w, `{"results":[]}`)
	}))
	require.NoError(t, c.Login(context.Background()))

	queued := &node.Task{Node: node.Node{RemoteID: "td:q", Name: "n"}}
	require.NoError(t, c.EnqueueUpdate(context.Background(), queued))

	victim := &node.Task{Node: node.Node{RemoteID: "td:v", Name: "n"}}
	require.NoError(t, c.Delete(context.Background(), victim))

	require.True(t, victim.Deleted)
	require.Zero(t, c.PendingUpdates())

	// The queued update travels before the delete, in its own batch.
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	require.Equal(t, "td:q", batches[0][0].ID)
	require.False(t, *batches[0][0].Entity.Deleted)
	require.Len(t, batches[1], 1)
	require.Equal(t, "td:v", batches[1][0].ID)
	require.True(t, *batches[1][0].Entity.Deleted)
}

func TestListTasksFlushesFirst(t *testing.T) {
	var order []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, bootstrapPage)
			return
		}
		req := decodePost(t, r)
		var a node.Action
		require.NoError(t, json.Unmarshal(req.ActionList[0], &a))
		order = append(order, a.ActionType)
		if a.ActionType == node.ActionTypeGetAll {
			fmt.Fprint(w, `{"results":[],"tasks":[{"id":"td:1","name":"one","last_modified":5}]}`)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
	require.NoError(t, c.Login(context.Background()))

	task := &node.Task{Node: node.Node{RemoteID: "td:1", Name: "one"}}
	require.NoError(t, c.EnqueueUpdate(context.Background(), task))

	tasks, err := c.ListTasks(context.Background(), "list:1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "one", tasks[0].Name)
	require.Equal(t, []string{node.ActionTypeUpdate, node.ActionTypeGetAll}, order)
}

func TestServerErrorInvalidatesSession(t *testing.T) {
	fail := false
	logins := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			logins++
			fmt.Fprint(w, bootstrapPage)
			return
		}
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	}))
	require.NoError(t, c.Login(context.Background()))

	fail = true
	_, err := c.ListTasks(context.Background(), "list:1")
	require.ErrorIs(t, err, ErrAction)

	_, err = c.ListTasks(context.Background(), "list:1")
	require.ErrorIs(t, err, ErrNotLoggedIn)
}
