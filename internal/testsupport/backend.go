package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"reel/internal/scene"
)

// Route names used for failure injection and holds.
const (
	RouteInitialize      = "initialize"
	RouteGet             = "get"
	RouteText            = "text"
	RouteEditText        = "edit-text"
	RouteImage           = "image"
	RouteVideo           = "video"
	RouteRegenerateVideo = "regenerate-video"
	RouteDuration        = "duration"
	RoutePatch           = "patch"
	RouteAdd             = "add"
	RouteRemove          = "remove"
	RouteReorder         = "reorder"
	RouteStatus          = "status"
	RouteEvents          = "events"
)

// Failure is a canned error response.
type Failure struct {
	Status  int
	Code    string
	Message string
}

// Request records one handled call.
type Request struct {
	Route        string
	Method       string
	Path         string
	StoryboardID string
	SceneID      string
	Body         string
	RequestID    string
}

// PushEvent is the wire shape emitted on the event stream.
type PushEvent struct {
	Type           string  `json:"type"`
	SceneID        string  `json:"sceneId,omitempty"`
	Phase          string  `json:"phase,omitempty"`
	TextStatus     string  `json:"textStatus,omitempty"`
	ImageStatus    string  `json:"imageStatus,omitempty"`
	VideoStatus    string  `json:"videoStatus,omitempty"`
	ImageURL       string  `json:"imageUrl,omitempty"`
	VideoURL       string  `json:"videoUrl,omitempty"`
	SourceDuration float64 `json:"sourceDuration,omitempty"`
	Error          string  `json:"error,omitempty"`
	ErrorCode      string  `json:"errorCode,omitempty"`
	JobID          string  `json:"jobId,omitempty"`
}

type board struct {
	storyboard scene.Storyboard
	scenes     map[string]scene.Scene
	jobs       map[string]string
}

type stream struct {
	frames chan string
	done   chan struct{}
}

// Backend is an in-memory generation backend served over httptest. It
// implements every REST endpoint the job client calls plus the server-sent
// events stream.
type Backend struct {
	Token string

	t      testing.TB
	server *httptest.Server

	mu         sync.Mutex
	boards     map[string]*board
	failures   map[string][]Failure
	holds      map[string]chan struct{}
	arrived    map[string]chan struct{}
	requests   []Request
	streams    map[string][]*stream
	pushDown   bool
	autoVideo  bool
	hideJobIDs bool
	nextID     int
	nextJob    int
	statusHits map[string]int
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		Token:      "test-token",
		t:          t,
		boards:     make(map[string]*board),
		failures:   make(map[string][]Failure),
		holds:      make(map[string]chan struct{}),
		arrived:    make(map[string]chan struct{}),
		streams:    make(map[string][]*stream),
		statusHits: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /storyboards", b.handleInitialize)
	mux.HandleFunc("GET /storyboards/{id}", b.handleGet)
	mux.HandleFunc("GET /storyboards/{id}/events", b.handleEvents)
	mux.HandleFunc("POST /storyboards/{id}/scenes", b.handleAdd)
	mux.HandleFunc("PUT /storyboards/{id}/scenes/order", b.handleReorder)
	mux.HandleFunc("DELETE /storyboards/{id}/scenes/{sid}", b.handleRemove)
	mux.HandleFunc("PATCH /storyboards/{id}/scenes/{sid}", b.handlePatch)
	mux.HandleFunc("POST /storyboards/{id}/scenes/{sid}/text", b.handleGenerateText)
	mux.HandleFunc("PUT /storyboards/{id}/scenes/{sid}/text", b.handleEditText)
	mux.HandleFunc("PUT /storyboards/{id}/scenes/{sid}/duration", b.handleDuration)
	mux.HandleFunc("POST /storyboards/{id}/scenes/{sid}/image", b.handleImage)
	mux.HandleFunc("POST /storyboards/{id}/scenes/{sid}/video", b.handleVideo(RouteVideo))
	mux.HandleFunc("POST /storyboards/{id}/scenes/{sid}/video/regenerate", b.handleVideo(RouteRegenerateVideo))
	mux.HandleFunc("GET /scenes/{sid}/status", b.handleStatus)
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// URL returns the backend root.
func (b *Backend) URL() string { return b.server.URL }

// Close stops the server and ends open streams.
func (b *Backend) Close() {
	b.mu.Lock()
	for id := range b.streams {
		b.closeStreamsLocked(id)
	}
	for route, ch := range b.holds {
		close(ch)
		delete(b.holds, route)
	}
	b.mu.Unlock()
	b.server.Close()
}

// Seed installs a storyboard with the given scenes in order.
func (b *Backend) Seed(storyboardID string, scenes ...scene.Scene) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd := &board{
		storyboard: scene.Storyboard{ID: storyboardID, SceneOrder: make([]string, 0, len(scenes))},
		scenes:     make(map[string]scene.Scene, len(scenes)),
		jobs:       make(map[string]string),
	}
	for _, s := range scenes {
		s.Normalize()
		bd.scenes[s.ID] = s
		bd.storyboard.SceneOrder = append(bd.storyboard.SceneOrder, s.ID)
	}
	b.boards[storyboardID] = bd
}

// Scene returns the backend's copy of a scene.
func (b *Backend) Scene(storyboardID, sceneID string) (scene.Scene, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.boards[storyboardID]
	if !ok {
		return scene.Scene{}, false
	}
	s, ok := bd.scenes[sceneID]
	return s, ok
}

// Order returns the backend's scene order.
func (b *Backend) Order(storyboardID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.boards[storyboardID]; ok {
		return append([]string(nil), bd.storyboard.SceneOrder...)
	}
	return nil
}

// JobID returns the current video job id for a scene.
func (b *Backend) JobID(storyboardID, sceneID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.boards[storyboardID]; ok {
		return bd.jobs[sceneID]
	}
	return ""
}

// FailNext queues a canned failure for the next call to route.
func (b *Backend) FailNext(route string, status int, code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = append(b.failures[route], Failure{Status: status, Code: code, Message: message})
}

// Hold blocks calls to route until the returned release function runs.
// Arrived is closed when the first held call reaches the backend.
func (b *Backend) Hold(route string) (arrived <-chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	seen := make(chan struct{})
	b.holds[route] = gate
	b.arrived[route] = seen
	var once sync.Once
	return seen, func() {
		once.Do(func() {
			b.mu.Lock()
			if b.holds[route] == gate {
				delete(b.holds, route)
				close(gate)
			}
			b.mu.Unlock()
		})
	}
}

// SetPushAvailable controls whether the events endpoint accepts connections.
func (b *Backend) SetPushAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushDown = !available
	if !available {
		for id := range b.streams {
			b.closeStreamsLocked(id)
		}
	}
}

// SetAutoCompleteVideo makes accepted video jobs complete on the next status
// poll instead of waiting for CompleteVideo.
func (b *Backend) SetAutoCompleteVideo(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoVideo = enabled
}

// SetEmitJobIDs controls whether pushed events name the job they belong to.
// With it off, events carry only the scene and its statuses.
func (b *Backend) SetEmitJobIDs(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hideJobIDs = !enabled
}

// Requests returns a copy of every handled call.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Count returns how many calls hit route.
func (b *Backend) Count(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Route == route {
			n++
		}
	}
	return n
}

// StatusPolls returns how many status polls a scene received.
func (b *Backend) StatusPolls(sceneID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusHits[sceneID]
}

// Subscribers returns the number of open event streams for a storyboard.
func (b *Backend) Subscribers(storyboardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[storyboardID])
}

// CompleteVideo finishes the scene's video job and pushes the update.
func (b *Backend) CompleteVideo(storyboardID, sceneID, videoURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeVideoLocked(storyboardID, sceneID, videoURL, true)
}

// FailVideo fails the scene's video job and pushes the update.
func (b *Backend) FailVideo(storyboardID, sceneID, code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.boards[storyboardID]
	if !ok {
		return
	}
	s := bd.scenes[sceneID]
	s.Generation.Video = scene.StatusError
	s.ErrorMessage = message
	bd.scenes[sceneID] = s
	b.emitLocked(storyboardID, PushEvent{
		Type:        "scene_update",
		SceneID:     sceneID,
		Phase:       string(s.Phase),
		ImageStatus: string(s.Generation.Image),
		VideoStatus: string(scene.StatusError),
		Error:       message,
		ErrorCode:   code,
		JobID:       bd.jobs[sceneID],
	})
}

// Emit sends an arbitrary event on every open stream for the storyboard.
func (b *Backend) Emit(storyboardID string, event PushEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(storyboardID, event)
}

// EmitRaw sends a raw server-sent events frame (useful for malformed input).
func (b *Backend) EmitRaw(storyboardID, frame string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.streams[storyboardID] {
		select {
		case st.frames <- frame:
		default:
			b.t.Logf("testsupport: dropped frame for %s", storyboardID)
		}
	}
}

// DropStreams ends every open stream for the storyboard.
func (b *Backend) DropStreams(storyboardID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeStreamsLocked(storyboardID)
}

func (b *Backend) completeVideoLocked(storyboardID, sceneID, videoURL string, push bool) {
	bd, ok := b.boards[storyboardID]
	if !ok {
		return
	}
	s, ok := bd.scenes[sceneID]
	if !ok {
		return
	}
	s.Generation.Video = scene.StatusComplete
	s.Phase = scene.PhaseVideo
	s.VideoURL = videoURL
	s.SourceDuration = s.DurationSeconds
	s.ErrorMessage = ""
	s.Trim = nil
	bd.scenes[sceneID] = s
	if push {
		b.emitLocked(storyboardID, PushEvent{
			Type:           "scene_update",
			SceneID:        sceneID,
			Phase:          string(s.Phase),
			ImageStatus:    string(s.Generation.Image),
			VideoStatus:    string(s.Generation.Video),
			ImageURL:       s.ImageURL,
			VideoURL:       videoURL,
			SourceDuration: s.SourceDuration,
			JobID:          bd.jobs[sceneID],
		})
	}
}

func (b *Backend) emitLocked(storyboardID string, event PushEvent) {
	if b.hideJobIDs {
		event.JobID = ""
	}
	data, err := json.Marshal(event)
	if err != nil {
		b.t.Errorf("testsupport: encode event: %v", err)
		return
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data)
	for _, st := range b.streams[storyboardID] {
		select {
		case st.frames <- frame:
		default:
			b.t.Logf("testsupport: dropped frame for %s", storyboardID)
		}
	}
}

func (b *Backend) closeStreamsLocked(storyboardID string) {
	for _, st := range b.streams[storyboardID] {
		close(st.done)
	}
	delete(b.streams, storyboardID)
}

// begin records the call, applies any hold, and writes a queued failure. It
// returns false when the caller should stop.
func (b *Backend) begin(w http.ResponseWriter, r *http.Request, route string) bool {
	if got := r.Header.Get("Authorization"); b.Token != "" && got != "Bearer "+b.Token {
		writeError(w, http.StatusUnauthorized, "", "unauthorized")
		return false
	}
	var body string
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}

	b.mu.Lock()
	b.requests = append(b.requests, Request{
		Route:        route,
		Method:       r.Method,
		Path:         r.URL.Path,
		StoryboardID: r.PathValue("id"),
		SceneID:      r.PathValue("sid"),
		Body:         body,
		RequestID:    r.Header.Get("X-Request-ID"),
	})
	gate := b.holds[route]
	if seen, ok := b.arrived[route]; ok && gate != nil {
		close(seen)
		delete(b.arrived, route)
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return false
		}
	}

	b.mu.Lock()
	queue := b.failures[route]
	var fail *Failure
	if len(queue) > 0 {
		f := queue[0]
		fail = &f
		b.failures[route] = queue[1:]
	}
	b.mu.Unlock()
	if fail != nil {
		writeError(w, fail.Status, fail.Code, fail.Message)
		return false
	}
	r.Body = io.NopCloser(strings.NewReader(body))
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func (b *Backend) stateLocked(bd *board) scene.State {
	state := scene.State{Storyboard: bd.storyboard.Clone()}
	for _, id := range bd.storyboard.SceneOrder {
		state.Scenes = append(state.Scenes, bd.scenes[id].Clone())
	}
	return state
}

// lookup resolves the storyboard and scene for a request, writing 404 when
// either is missing.
func (b *Backend) lookup(w http.ResponseWriter, r *http.Request, needScene bool) (*board, scene.Scene, bool) {
	bd, ok := b.boards[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "", "storyboard not found")
		return nil, scene.Scene{}, false
	}
	if !needScene {
		return bd, scene.Scene{}, true
	}
	s, ok := bd.scenes[r.PathValue("sid")]
	if !ok {
		writeError(w, http.StatusNotFound, "", "scene not found")
		return nil, scene.Scene{}, false
	}
	return bd, s, true
}

func (b *Backend) newSceneIDLocked() string {
	b.nextID++
	return "scene-" + strconv.Itoa(b.nextID)
}

func (b *Backend) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteInitialize) {
		return
	}
	var req struct {
		Brief scene.Brief `json:"creativeBrief"`
		Mood  string      `json:"mood"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Brief.Description) == "" {
		writeError(w, http.StatusBadRequest, "", "creative brief required")
		return
	}
	count := req.Brief.SceneCount
	if count <= 0 {
		count = 3
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := "sb-" + strconv.Itoa(b.nextID)
	brief, _ := json.Marshal(req.Brief)
	bd := &board{
		storyboard: scene.Storyboard{ID: id, CreativeBrief: brief, Mood: req.Mood},
		scenes:     make(map[string]scene.Scene),
		jobs:       make(map[string]string),
	}
	for i := 0; i < count; i++ {
		s := scene.Scene{
			ID:              b.newSceneIDLocked(),
			Text:            fmt.Sprintf("%s (part %d)", req.Brief.Description, i+1),
			DurationSeconds: 5,
		}
		s.Normalize()
		bd.scenes[s.ID] = s
		bd.storyboard.SceneOrder = append(bd.storyboard.SceneOrder, s.ID)
	}
	b.boards[id] = bd
	state := b.stateLocked(bd)
	writeJSON(w, http.StatusCreated, map[string]any{"storyboardId": id, "storyboard": state.Storyboard, "scenes": state.Scenes})
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteGet) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, _, ok := b.lookup(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.stateLocked(bd))
}

func (b *Backend) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteText) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	s.Text = s.Text + " (rewritten)"
	s.Generation.Text = scene.StatusComplete
	bd.scenes[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handleEditText(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteEditText) {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid body")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	s.Text = req.Text
	s.Generation.Text = scene.StatusComplete
	bd.scenes[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handleDuration(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteDuration) {
		return
	}
	var req struct {
		DurationSeconds float64 `json:"durationSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "", "invalid duration")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	s.DurationSeconds = req.DurationSeconds
	if s.Trim != nil && s.Trim.End > req.DurationSeconds {
		s.Trim = nil
	}
	bd.scenes[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handlePatch(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RoutePatch) {
		return
	}
	var patch scene.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid patch")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	s = patch.Apply(s)
	bd.scenes[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handleImage(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteImage) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	s.Generation.Image = scene.StatusComplete
	s.Phase = scene.MaxPhase(s.Phase, scene.PhaseImage)
	s.ImageURL = fmt.Sprintf("https://cdn.test/%s/image-%d.png", s.ID, time.Now().UnixNano())
	s.ErrorMessage = ""
	bd.scenes[s.ID] = s
	writeJSON(w, http.StatusOK, s)
}

func (b *Backend) handleVideo(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.begin(w, r, route) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		bd, s, ok := b.lookup(w, r, true)
		if !ok {
			return
		}
		if s.Generation.Image != scene.StatusComplete {
			writeError(w, http.StatusUnprocessableEntity, "missing_image", "image must be complete before video generation")
			return
		}
		b.nextJob++
		jobID := "job-" + strconv.Itoa(b.nextJob)
		bd.jobs[s.ID] = jobID
		s.Generation.Video = scene.StatusGenerating
		s.Phase = scene.PhaseVideo
		s.ErrorMessage = ""
		bd.scenes[s.ID] = s
		writeJSON(w, http.StatusAccepted, scene.JobTicket{Accepted: true, JobID: jobID})
	}
}

func (b *Backend) handleAdd(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteAdd) {
		return
	}
	var req struct {
		Position *int `json:"position"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, _, ok := b.lookup(w, r, false)
	if !ok {
		return
	}
	s := scene.Scene{ID: b.newSceneIDLocked(), Text: "New scene", DurationSeconds: 5}
	s.Normalize()
	bd.scenes[s.ID] = s
	pos := -1
	if req.Position != nil {
		pos = *req.Position
	}
	bd.storyboard.SceneOrder = scene.Insert(bd.storyboard.SceneOrder, s.ID, pos)
	writeJSON(w, http.StatusCreated, b.stateLocked(bd))
}

func (b *Backend) handleRemove(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteRemove) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, s, ok := b.lookup(w, r, true)
	if !ok {
		return
	}
	delete(bd.scenes, s.ID)
	delete(bd.jobs, s.ID)
	bd.storyboard.SceneOrder, _ = scene.Remove(bd.storyboard.SceneOrder, s.ID)
	writeJSON(w, http.StatusOK, b.stateLocked(bd))
}

func (b *Backend) handleReorder(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteReorder) {
		return
	}
	var req struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid body")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, _, ok := b.lookup(w, r, false)
	if !ok {
		return
	}
	if !scene.IsPermutation(bd.storyboard.SceneOrder, req.Order) {
		writeError(w, http.StatusConflict, "", "order is not a permutation")
		return
	}
	bd.storyboard.SceneOrder = append([]string(nil), req.Order...)
	writeJSON(w, http.StatusOK, b.stateLocked(bd))
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteStatus) {
		return
	}
	sceneID := r.PathValue("sid")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusHits[sceneID]++
	for id, bd := range b.boards {
		s, ok := bd.scenes[sceneID]
		if !ok {
			continue
		}
		if b.autoVideo && s.Generation.Video == scene.StatusGenerating {
			b.completeVideoLocked(id, sceneID, "https://cdn.test/"+sceneID+"/video.mp4", false)
			s = bd.scenes[sceneID]
		}
		writeJSON(w, http.StatusOK, scene.StatusReport{
			SceneID:        s.ID,
			Phase:          s.Phase,
			Generation:     s.Generation,
			ImageURL:       s.ImageURL,
			VideoURL:       s.VideoURL,
			SourceDuration: s.SourceDuration,
			Error:          s.ErrorMessage,
			JobID:          bd.jobs[sceneID],
		})
		return
	}
	writeError(w, http.StatusNotFound, "", "scene not found")
}

func (b *Backend) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !b.begin(w, r, RouteEvents) {
		return
	}
	storyboardID := r.PathValue("id")
	b.mu.Lock()
	if b.pushDown {
		b.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "", "push unavailable")
		return
	}
	if _, ok := b.boards[storyboardID]; !ok {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "", "storyboard not found")
		return
	}
	st := &stream{frames: make(chan string, 64), done: make(chan struct{})}
	b.streams[storyboardID] = append(b.streams[storyboardID], st)
	b.mu.Unlock()

	defer b.removeStream(storyboardID, st)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": stream open\n\nevent: connected\ndata: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-st.done:
			return
		case frame := <-st.frames:
			if _, err := fmt.Fprint(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Backend) removeStream(storyboardID string, target *stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.streams[storyboardID]
	for i, st := range list {
		if st == target {
			b.streams[storyboardID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.streams[storyboardID]) == 0 {
		delete(b.streams, storyboardID)
	}
}
