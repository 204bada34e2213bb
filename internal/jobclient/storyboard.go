package jobclient

import (
	"context"
	"net/http"
	"strings"

	"reel/internal/scene"
	"reel/internal/services"
)

type initializeRequest struct {
	Brief scene.Brief `json:"creativeBrief"`
	Mood  string      `json:"mood,omitempty"`
}

// initializeResponse accepts both the flat {storyboardId, scenes} shape and
// the nested {storyboard, scenes} shape.
type initializeResponse struct {
	StoryboardID string            `json:"storyboardId"`
	Storyboard   *scene.Storyboard `json:"storyboard"`
	Scenes       []scene.Scene     `json:"scenes"`
}

type positionRequest struct {
	Position *int `json:"position,omitempty"`
}

type orderRequest struct {
	Order []string `json:"order"`
}

type textRequest struct {
	Text string `json:"text"`
}

type durationRequest struct {
	DurationSeconds float64 `json:"durationSeconds"`
}

// InitializeStoryboard creates a storyboard from a creative brief.
func (c *Client) InitializeStoryboard(ctx context.Context, brief scene.Brief, mood string) (scene.State, error) {
	if strings.TrimSpace(brief.Description) == "" {
		return scene.State{}, services.Wrap(services.ErrValidation, "jobclient", "initialize storyboard", "creative brief description is required", nil)
	}
	var resp initializeResponse
	if err := c.do(ctx, "initialize storyboard", http.MethodPost, initializeRequest{Brief: brief, Mood: mood}, &resp, "storyboards"); err != nil {
		return scene.State{}, err
	}
	state := scene.State{Scenes: resp.Scenes}
	if resp.Storyboard != nil {
		state.Storyboard = *resp.Storyboard
	}
	if state.Storyboard.ID == "" {
		state.Storyboard.ID = resp.StoryboardID
	}
	if state.Storyboard.Mood == "" {
		state.Storyboard.Mood = mood
	}
	return normalizeState("initialize storyboard", state)
}

// GetStoryboard fetches a storyboard with all of its scenes.
func (c *Client) GetStoryboard(ctx context.Context, storyboardID string) (scene.State, error) {
	ctx = services.WithStoryboardID(ctx, storyboardID)
	var state scene.State
	if err := c.do(ctx, "get storyboard", http.MethodGet, nil, &state, "storyboards", storyboardID); err != nil {
		return scene.State{}, err
	}
	return normalizeState("get storyboard", state)
}

// GenerateSceneText regenerates a scene's text. The call is synchronous.
func (c *Client) GenerateSceneText(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
	return c.sceneCall(ctx, "generate text", http.MethodPost, nil, storyboardID, sceneID, "text")
}

// GenerateSceneImage generates a scene's image. The call is synchronous.
func (c *Client) GenerateSceneImage(ctx context.Context, storyboardID, sceneID string) (scene.Scene, error) {
	return c.sceneCall(ctx, "generate image", http.MethodPost, nil, storyboardID, sceneID, "image")
}

// GenerateSceneVideo submits a video job. Only acceptance is reported; the
// result arrives through the push channel or status polling.
func (c *Client) GenerateSceneVideo(ctx context.Context, storyboardID, sceneID string) (scene.JobTicket, error) {
	return c.jobCall(ctx, "generate video", storyboardID, sceneID, "video")
}

// RegenerateVideo submits a replacement video job.
func (c *Client) RegenerateVideo(ctx context.Context, storyboardID, sceneID string) (scene.JobTicket, error) {
	return c.jobCall(ctx, "regenerate video", storyboardID, sceneID, "video", "regenerate")
}

// UpdateSceneText replaces a scene's text without generation side effects.
func (c *Client) UpdateSceneText(ctx context.Context, storyboardID, sceneID, text string) (scene.Scene, error) {
	return c.sceneCall(ctx, "update text", http.MethodPut, textRequest{Text: text}, storyboardID, sceneID, "text")
}

// UpdateSceneDuration sets a scene's duration in seconds.
func (c *Client) UpdateSceneDuration(ctx context.Context, storyboardID, sceneID string, seconds float64) (scene.Scene, error) {
	if seconds <= 0 {
		return scene.Scene{}, services.Wrap(services.ErrValidation, "jobclient", "update duration", "duration must be positive", nil)
	}
	return c.sceneCall(ctx, "update duration", http.MethodPut, durationRequest{DurationSeconds: seconds}, storyboardID, sceneID, "duration")
}

// PatchScene applies overlay asset and trim changes.
func (c *Client) PatchScene(ctx context.Context, storyboardID, sceneID string, patch scene.Patch) (scene.Scene, error) {
	return c.sceneCall(ctx, "patch scene", http.MethodPatch, patch, storyboardID, sceneID)
}

// AddScene asks the backend for a new scene. A negative position appends.
func (c *Client) AddScene(ctx context.Context, storyboardID string, position int) (scene.State, error) {
	ctx = services.WithStoryboardID(ctx, storyboardID)
	req := positionRequest{}
	if position >= 0 {
		req.Position = &position
	}
	var state scene.State
	if err := c.do(ctx, "add scene", http.MethodPost, req, &state, "storyboards", storyboardID, "scenes"); err != nil {
		return scene.State{}, err
	}
	return normalizeState("add scene", state)
}

// RemoveScene deletes a scene.
func (c *Client) RemoveScene(ctx context.Context, storyboardID, sceneID string) (scene.State, error) {
	ctx = services.WithSceneID(services.WithStoryboardID(ctx, storyboardID), sceneID)
	var state scene.State
	if err := c.do(ctx, "remove scene", http.MethodDelete, nil, &state, "storyboards", storyboardID, "scenes", sceneID); err != nil {
		return scene.State{}, err
	}
	return normalizeState("remove scene", state)
}

// ReorderScenes replaces the display order.
func (c *Client) ReorderScenes(ctx context.Context, storyboardID string, order []string) (scene.State, error) {
	ctx = services.WithStoryboardID(ctx, storyboardID)
	var state scene.State
	if err := c.do(ctx, "reorder scenes", http.MethodPut, orderRequest{Order: order}, &state, "storyboards", storyboardID, "scenes", "order"); err != nil {
		return scene.State{}, err
	}
	return normalizeState("reorder scenes", state)
}

// GetSceneStatus polls the current generation status of a scene.
func (c *Client) GetSceneStatus(ctx context.Context, sceneID string) (scene.StatusReport, error) {
	ctx = services.WithSceneID(ctx, sceneID)
	var report scene.StatusReport
	if err := c.do(ctx, "get scene status", http.MethodGet, nil, &report, "scenes", sceneID, "status"); err != nil {
		return scene.StatusReport{}, err
	}
	if report.SceneID == "" {
		report.SceneID = sceneID
	}
	return report, nil
}

func (c *Client) sceneCall(ctx context.Context, op, method string, body any, storyboardID, sceneID string, suffix ...string) (scene.Scene, error) {
	ctx = services.WithSceneID(services.WithStoryboardID(ctx, storyboardID), sceneID)
	segments := append([]string{"storyboards", storyboardID, "scenes", sceneID}, suffix...)
	var result scene.Scene
	if err := c.do(ctx, op, method, body, &result, segments...); err != nil {
		return scene.Scene{}, err
	}
	if result.ID == "" {
		result.ID = sceneID
	}
	result.Normalize()
	return result, nil
}

func (c *Client) jobCall(ctx context.Context, op, storyboardID, sceneID string, suffix ...string) (scene.JobTicket, error) {
	ctx = services.WithSceneID(services.WithStoryboardID(ctx, storyboardID), sceneID)
	segments := append([]string{"storyboards", storyboardID, "scenes", sceneID}, suffix...)
	var ticket scene.JobTicket
	if err := c.do(ctx, op, http.MethodPost, nil, &ticket, segments...); err != nil {
		return scene.JobTicket{}, err
	}
	if !ticket.Accepted {
		return ticket, services.Wrap(services.ErrExternal, "jobclient", op, "job not accepted", nil)
	}
	return ticket, nil
}

// normalizeState fills defaults and derives the display order from the
// scene list when the backend omits it.
func normalizeState(op string, state scene.State) (scene.State, error) {
	if strings.TrimSpace(state.Storyboard.ID) == "" {
		return scene.State{}, services.Wrap(services.ErrExternal, "jobclient", op, "response missing storyboard id", nil)
	}
	for i := range state.Scenes {
		state.Scenes[i].Normalize()
	}
	if len(state.Storyboard.SceneOrder) == 0 {
		order := make([]string, 0, len(state.Scenes))
		for _, s := range state.Scenes {
			order = append(order, s.ID)
		}
		state.Storyboard.SceneOrder = order
	}
	return state, nil
}
