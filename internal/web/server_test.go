package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"imufusion/internal/ahrs"
	"imufusion/internal/fusion"
)

type fakeController struct {
	mu       sync.Mutex
	snap     ahrs.Snapshot
	headings []float32
	calls    map[string]int
	err      error
	block    bool
}

func newFakeController() *fakeController {
	return &fakeController{calls: map[string]int{}}
}

func (f *fakeController) Snapshot() ahrs.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) act(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls[name]++
	err, block := f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeController) SetHeading(ctx context.Context, heading float32) error {
	f.mu.Lock()
	f.headings = append(f.headings, heading)
	f.mu.Unlock()
	return f.act(ctx, "heading")
}

func (f *fakeController) Reinitialize(ctx context.Context) error {
	return f.act(ctx, "reinitialize")
}

func (f *fakeController) OrientForward(ctx context.Context) error {
	return f.act(ctx, "forward")
}

func (f *fakeController) OrientDone(ctx context.Context) error {
	return f.act(ctx, "done")
}

func (f *fakeController) Orientation() (int, [3]float64, bool) {
	return -2, [3]float64{0, 0, 1}, true
}

func (f *fakeController) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestAPIAHRS(t *testing.T) {
	ctl := newFakeController()
	ctl.snap = ahrs.Snapshot{
		Valid:       true,
		IMUDetected: true,
		Quaternion:  fusion.QuaternionIdentity,
		Euler:       fusion.Euler{Roll: 1, Pitch: -2, Yaw: 90},
		Flags:       fusion.Flags{Initialising: true},
		States:      fusion.InternalStates{MagnetometerIgnored: true},
		Samples:     42,
		SensorTime:  1500 * time.Millisecond,
	}
	ts := httptest.NewServer(Handler(ctl, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ahrs")
	if err != nil {
		t.Fatalf("get ahrs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	var a Attitude
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !a.Valid || a.YawDeg != 90 || a.PitchDeg != -2 || a.Samples != 42 {
		t.Fatalf("attitude=%+v", a)
	}
	if !a.Flags.Initialising || !a.MagIgnored || a.SensorTimeS != 1.5 {
		t.Fatalf("attitude=%+v", a)
	}
	if a.Quaternion != [4]float32{1, 0, 0, 0} {
		t.Fatalf("quaternion=%v", a.Quaternion)
	}

	resp2, _ := post(t, ts.URL+"/api/ahrs", "")
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d want 405", resp2.StatusCode)
	}
	if allow := resp2.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("allow=%q", allow)
	}
}

func TestAPIOrientation(t *testing.T) {
	ts := httptest.NewServer(Handler(newFakeController(), nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ahrs/orientation")
	if err != nil {
		t.Fatalf("get orientation: %v", err)
	}
	defer resp.Body.Close()
	var out OrientationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !out.Set || out.ForwardAxis != -2 || out.Gravity != [3]float64{0, 0, 1} {
		t.Fatalf("orientation=%+v", out)
	}
}

func TestAPIHeading(t *testing.T) {
	ctl := newFakeController()
	ts := httptest.NewServer(Handler(ctl, nil, nil))
	defer ts.Close()

	resp, body := post(t, ts.URL+"/api/ahrs/heading", `{"heading_deg": 271.5}`)
	if resp.StatusCode != http.StatusOK || body != "{\"ok\":true}\n" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if len(ctl.headings) != 1 || ctl.headings[0] != 271.5 {
		t.Fatalf("headings=%v", ctl.headings)
	}

	for _, bad := range []string{``, `{}`, `{"heading": 1}`, `{"heading_deg": "north"}`} {
		resp, _ := post(t, ts.URL+"/api/ahrs/heading", bad)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d want 400", bad, resp.StatusCode)
		}
	}
	if ctl.count("heading") != 1 {
		t.Fatalf("invalid bodies reached the controller")
	}
}

func TestAPIActions(t *testing.T) {
	ctl := newFakeController()
	ts := httptest.NewServer(Handler(ctl, nil, nil))
	defer ts.Close()

	for path, name := range map[string]string{
		"/api/ahrs/reinitialize":   "reinitialize",
		"/api/ahrs/orient/forward": "forward",
		"/api/ahrs/orient/done":    "done",
	} {
		resp, _ := post(t, ts.URL+path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", path, resp.StatusCode)
		}
		if ctl.count(name) != 1 {
			t.Fatalf("%s: calls=%d want 1", path, ctl.count(name))
		}

		get, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		get.Body.Close()
		if get.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s: status=%d want 405", path, get.StatusCode)
		}
	}
}

func TestAPIActionError(t *testing.T) {
	ctl := newFakeController()
	ctl.err = errors.New("ahrs: orientation capture already in progress")
	ts := httptest.NewServer(Handler(ctl, nil, nil))
	defer ts.Close()

	resp, body := post(t, ts.URL+"/api/ahrs/orient/forward", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
	if !strings.Contains(body, "already in progress") {
		t.Fatalf("body=%q", body)
	}
}

func TestRunActionTimeout(t *testing.T) {
	ctl := newFakeController()
	ctl.block = true
	rr := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/ahrs/reinitialize", nil).WithContext(ctx)

	runAction(rr, req, ctl.Reinitialize)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d want 504", rr.Code)
	}
}

func TestAPIStream(t *testing.T) {
	att := NewAttitudeBroadcaster()
	att.Publish(Attitude{Valid: true, RollDeg: 12.5})
	ts := httptest.NewServer(Handler(newFakeController(), att, nil))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/ahrs/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	br := bufio.NewReader(resp.Body)
	readEvent := func() Attitude {
		t.Helper()
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var a Attitude
				if err := json.Unmarshal([]byte(data), &a); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				return a
			}
		}
	}

	if a := readEvent(); a.RollDeg != 12.5 {
		t.Fatalf("first event roll=%v want last published value", a.RollDeg)
	}
	att.Publish(Attitude{Valid: true, RollDeg: -3})
	if a := readEvent(); a.RollDeg != -3 {
		t.Fatalf("second event roll=%v", a.RollDeg)
	}
}

func TestAPIStreamUnavailable(t *testing.T) {
	ts := httptest.NewServer(Handler(newFakeController(), nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/ahrs/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}

	logsResp, err := http.Get(ts.URL + "/api/logs")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	logsResp.Body.Close()
	if logsResp.StatusCode != http.StatusNotFound {
		t.Fatalf("logs status=%d want 404 when no buffer", logsResp.StatusCode)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

func TestServe_ListenError(t *testing.T) {
	err := Serve(context.Background(), "127.0.0.1:-1", http.NotFoundHandler())
	if err == nil {
		t.Fatalf("expected listen error")
	}
}
