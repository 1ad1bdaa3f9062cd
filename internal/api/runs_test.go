package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/procscript/internal/model"
)

// waitForRun polls GET /v1/runs/{id} until the run reaches status.
func waitForRun(t *testing.T, baseURL, id, status string) model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var run model.Run
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/v1/runs/" + id)
		if err != nil {
			t.Fatalf("GET run: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&run)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode run: %v", err)
		}
		if run.Status == status {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s stuck in %q, want %q", id, run.Status, status)
	return run
}

func postRun(t *testing.T, baseURL, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(baseURL+"/v1/runs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	return resp
}

func TestCreateRunSteps(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"name":"hello","timeout_s":5,"steps":[{"type":"cmd","cmd":["sh","-c","echo hello"],"out":["hello"],"done":"exit:0"}]}`
	resp := postRun(t, ts.URL, body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(run.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(run.ID))
	}
	if run.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", run.Status, model.StatusPending)
	}
	if run.Name != "hello" || run.Steps != 1 {
		t.Errorf("run = %+v, want name hello with one step", run)
	}

	waitForRun(t, ts.URL, run.ID, model.StatusPassed)
}

func TestCreateRunYAML(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	yamlScript := "name: yaml\nsteps:\n  - type: cmd\n    cmd: [sh, -c, 'echo oops >&2; exit 3']\n    err: [oops]\n    done: exit:3\n"
	payload, _ := json.Marshal(map[string]string{"script": yamlScript})
	resp := postRun(t, ts.URL, string(payload))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Name != "yaml" {
		t.Errorf("Name = %q, want yaml", run.Name)
	}
	waitForRun(t, ts.URL, run.ID, model.StatusPassed)
}

func TestCreateRunInvalid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{not json`},
		{"no steps", `{"name":"empty"}`},
		{"bad done", `{"steps":[{"type":"cmd","cmd":["true"],"done":"later"}]}`},
		{"signal first", `{"steps":[{"type":"signal","signal":15,"done":"exit"}]}`},
		{"bad yaml", `{"script":"steps: [oops"}`},
		{"negative timeout", `{"timeout_s":-1,"steps":[{"type":"cmd","cmd":["true"],"done":"exit"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postRun(t, ts.URL, tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for i := range 3 {
		r := &model.Run{
			ID: model.NewID(), Name: fmt.Sprintf("run-%d", i), Status: model.StatusPending,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := srv.store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		query     string
		wantLen   int
		wantLimit int
	}{
		{"", 3, defaultListLimit},
		{"?limit=2", 2, 2},
		{"?limit=2&offset=2", 1, 2},
		{"?limit=0", 3, defaultListLimit},
		{"?limit=1000", 3, defaultListLimit},
		{"?offset=-4", 3, defaultListLimit},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/v1/runs" + tc.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()

			var list listRunsResponse
			if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if list.Total != 3 {
				t.Errorf("total = %d, want 3", list.Total)
			}
			if len(list.Runs) != tc.wantLen {
				t.Errorf("len(runs) = %d, want %d", len(list.Runs), tc.wantLen)
			}
			if list.Limit != tc.wantLimit {
				t.Errorf("limit = %d, want %d", list.Limit, tc.wantLimit)
			}
		})
	}
}

func TestListRunsEmptyIsArray(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["runs"]) != "[]" {
		t.Errorf("runs = %s, want []", raw["runs"])
	}
}

func TestCancelRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"steps":[{"type":"cmd","cmd":["sleep","10"],"done":"exit"}]}`
	resp := postRun(t, ts.URL, body)
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	waitForRun(t, ts.URL, run.ID, model.StatusRunning)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/"+run.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", delResp.StatusCode)
	}

	waitForRun(t, ts.URL, run.ID, model.StatusCancelled)
	srv.engine.Wait()

	again, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", again.StatusCode)
	}
}

func TestCancelRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/nonexistent", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
