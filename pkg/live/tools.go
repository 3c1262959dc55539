package live

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Tool names the model may call.
const (
	ToolToggleCamera    = "toggleCamera"
	ToolSwitchInputMode = "switchInputMode"
	ToolChangeTheme     = "changeTheme"
	ToolNewConversation = "newConversation"
	ToolGetWeather      = "getWeather"
	ToolManageReminders = "manageReminders"
)

// DefaultThemes is the theme list changeTheme matches against when the host
// application does not supply its own.
var DefaultThemes = []string{"dark", "light", "ocean", "ember", "forest"}

// ToolHandler executes one named capability the model can invoke.
type ToolHandler interface {
	// Name returns the wire name of the tool.
	Name() string
	// Declaration returns the schema advertised to the model at connect.
	Declaration() *genai.FunctionDeclaration
	// Execute runs the tool and returns the result payload text.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry resolves tool calls by name. Register all handlers before the
// session connects; the registry is not safe for concurrent mutation.
type ToolRegistry struct {
	byName  map[string]ToolHandler
	ordered []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]ToolHandler)}
}

// Register adds a handler. Duplicate or empty names are rejected.
func (r *ToolRegistry) Register(h ToolHandler) error {
	if r == nil || r.byName == nil {
		return fmt.Errorf("live: tool registry not initialized")
	}
	if h == nil {
		return fmt.Errorf("live: tool handler must not be nil")
	}
	name := h.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("live: tool name must not be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("live: tool %q already registered", name)
	}
	r.byName[name] = h
	r.ordered = append(r.ordered, name)
	return nil
}

// Get returns the handler for name.
func (r *ToolRegistry) Get(name string) (ToolHandler, bool) {
	if r == nil || r.byName == nil {
		return nil, false
	}
	h, ok := r.byName[name]
	return h, ok
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}

// Declarations returns the schemas for every registered tool, in
// registration order.
func (r *ToolRegistry) Declarations() []*genai.FunctionDeclaration {
	if r == nil {
		return nil
	}
	out := make([]*genai.FunctionDeclaration, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name].Declaration())
	}
	return out
}

// Respond executes one call and always produces a response, since the remote
// session stalls on any unanswered call id. Unknown tools and handler errors
// become explanatory result payloads, never transport failures.
func (r *ToolRegistry) Respond(ctx context.Context, call ToolCall) ToolResponse {
	resp := ToolResponse{ID: call.ID, Name: call.Name}
	h, ok := r.Get(call.Name)
	if !ok {
		resp.Result = fmt.Sprintf("unknown tool %q; available tools: %s",
			call.Name, strings.Join(r.Names(), ", "))
		return resp
	}
	result, err := h.Execute(ctx, call.Args)
	if err != nil {
		resp.Result = fmt.Sprintf("tool %s failed: %v", call.Name, err)
		return resp
	}
	resp.Result = result
	return resp
}

// AppController is the fixed command surface the host application injects at
// construction. The orchestrator drives it when the model requests an
// app-control change; it never holds a reference back into the host's UI.
type AppController interface {
	CameraOn() bool
	SetCamera(on bool)
	InputMode() string
	SetInputMode(mode string)
	Theme() string
	SetTheme(theme string)
	ResetConversation()
}

// RegisterAppTools registers the application-control tools backed by ctrl.
// themes is the changeTheme candidate list; nil means DefaultThemes.
func RegisterAppTools(reg *ToolRegistry, ctrl AppController, themes []string) error {
	if ctrl == nil {
		return fmt.Errorf("live: app controller must not be nil")
	}
	if len(themes) == 0 {
		themes = DefaultThemes
	}
	handlers := []ToolHandler{
		&cameraTool{ctrl: ctrl},
		&inputModeTool{ctrl: ctrl},
		&themeTool{ctrl: ctrl, themes: themes},
		&newConversationTool{ctrl: ctrl},
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAssistantTools registers the informational tools. reminders may be
// nil, in which case manageReminders is not offered.
func RegisterAssistantTools(reg *ToolRegistry, reminders ReminderStore) error {
	if err := reg.Register(&weatherTool{}); err != nil {
		return err
	}
	if reminders != nil {
		if err := reg.Register(&remindersTool{store: reminders}); err != nil {
			return err
		}
	}
	return nil
}

type cameraTool struct {
	ctrl AppController
}

func (t *cameraTool) Name() string { return ToolToggleCamera }

func (t *cameraTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolToggleCamera,
		Description: "Turn the user's camera on or off.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"state": {
					Type:        genai.TypeString,
					Enum:        []string{"on", "off"},
					Description: "Desired camera state.",
				},
			},
			Required: []string{"state"},
		},
	}
}

func (t *cameraTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	state, err := stringArg(args, "state")
	if err != nil {
		return "", err
	}
	var want bool
	switch strings.ToLower(state) {
	case "on":
		want = true
	case "off":
		want = false
	default:
		return "", fmt.Errorf("state must be \"on\" or \"off\", got %q", state)
	}
	// Already in the requested state: acknowledge without toggling.
	if t.ctrl.CameraOn() != want {
		t.ctrl.SetCamera(want)
	}
	return "ok", nil
}

type inputModeTool struct {
	ctrl AppController
}

func (t *inputModeTool) Name() string { return ToolSwitchInputMode }

func (t *inputModeTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolSwitchInputMode,
		Description: "Switch how the user talks to the assistant.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"mode": {
					Type:        genai.TypeString,
					Enum:        []string{"voice", "text"},
					Description: "Desired input mode.",
				},
			},
			Required: []string{"mode"},
		},
	}
}

func (t *inputModeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	mode, err := stringArg(args, "mode")
	if err != nil {
		return "", err
	}
	mode = strings.ToLower(mode)
	if mode != "voice" && mode != "text" {
		return "", fmt.Errorf("mode must be \"voice\" or \"text\", got %q", mode)
	}
	if !strings.EqualFold(t.ctrl.InputMode(), mode) {
		t.ctrl.SetInputMode(mode)
	}
	return "ok", nil
}

type themeTool struct {
	ctrl   AppController
	themes []string
}

func (t *themeTool) Name() string { return ToolChangeTheme }

func (t *themeTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolChangeTheme,
		Description: "Change the application color theme.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"theme": {
					Type:        genai.TypeString,
					Enum:        append([]string(nil), t.themes...),
					Description: "Name of the theme to switch to.",
				},
			},
			Required: []string{"theme"},
		},
	}
}

func (t *themeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	requested, err := stringArg(args, "theme")
	if err != nil {
		return "", err
	}
	var canonical string
	for _, name := range t.themes {
		if strings.EqualFold(name, requested) {
			canonical = name
			break
		}
	}
	if canonical == "" {
		return "", fmt.Errorf("unknown theme %q; available themes: %s",
			requested, strings.Join(t.themes, ", "))
	}
	if !strings.EqualFold(t.ctrl.Theme(), canonical) {
		t.ctrl.SetTheme(canonical)
	}
	return "ok", nil
}

type newConversationTool struct {
	ctrl AppController
}

func (t *newConversationTool) Name() string { return ToolNewConversation }

func (t *newConversationTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolNewConversation,
		Description: "Clear the transcript and start a fresh conversation.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		},
	}
}

func (t *newConversationTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.ctrl.ResetConversation()
	return "ok", nil
}

// Reminder is a single stored reminder.
type Reminder struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// ReminderStore persists reminders across conversations.
type ReminderStore interface {
	AddReminder(ctx context.Context, text string) (Reminder, error)
	Reminders(ctx context.Context) ([]Reminder, error)
	CompleteReminder(ctx context.Context, id string) error
}

type remindersTool struct {
	store ReminderStore
}

func (t *remindersTool) Name() string { return ToolManageReminders }

func (t *remindersTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolManageReminders,
		Description: "Add, list, or complete the user's reminders.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"action": {
					Type:        genai.TypeString,
					Enum:        []string{"add", "list", "complete"},
					Description: "What to do with the reminders.",
				},
				"text": {
					Type:        genai.TypeString,
					Description: "Reminder text, required for add.",
				},
				"id": {
					Type:        genai.TypeString,
					Description: "Reminder id, required for complete.",
				},
			},
			Required: []string{"action"},
		},
	}
}

func (t *remindersTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, err := stringArg(args, "action")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(action) {
	case "add":
		text, err := stringArg(args, "text")
		if err != nil {
			return "", err
		}
		rem, err := t.store.AddReminder(ctx, text)
		if err != nil {
			return "", fmt.Errorf("add reminder: %w", err)
		}
		return fmt.Sprintf("added reminder %s: %s", rem.ID, rem.Text), nil
	case "list":
		rems, err := t.store.Reminders(ctx)
		if err != nil {
			return "", fmt.Errorf("list reminders: %w", err)
		}
		if len(rems) == 0 {
			return "no reminders", nil
		}
		var b strings.Builder
		for i, rem := range rems {
			if i > 0 {
				b.WriteString("; ")
			}
			status := "open"
			if rem.Done {
				status = "done"
			}
			fmt.Fprintf(&b, "%s (%s): %s", rem.ID, status, rem.Text)
		}
		return b.String(), nil
	case "complete":
		id, err := stringArg(args, "id")
		if err != nil {
			return "", err
		}
		if err := t.store.CompleteReminder(ctx, id); err != nil {
			return "", fmt.Errorf("complete reminder: %w", err)
		}
		return fmt.Sprintf("completed reminder %s", id), nil
	default:
		return "", fmt.Errorf("action must be add, list, or complete, got %q", action)
	}
}

type weatherTool struct{}

func (t *weatherTool) Name() string { return ToolGetWeather }

func (t *weatherTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolGetWeather,
		Description: "Get the current weather for a location.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"location": {
					Type:        genai.TypeString,
					Description: "City or place name.",
				},
			},
			Required: []string{"location"},
		},
	}
}

var weatherConditions = []string{
	"clear skies",
	"partly cloudy",
	"overcast",
	"light rain",
	"scattered showers",
	"a gentle breeze",
	"morning fog",
	"bright sunshine",
}

// Execute computes a stable offline answer so the tool works without a
// network dependency. The same location always reports the same weather.
func (t *weatherTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	location, err := stringArg(args, "location")
	if err != nil {
		return "", err
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(location))))
	sum := h.Sum32()
	condition := weatherConditions[sum%uint32(len(weatherConditions))]
	tempC := 4 + int(sum/7%24)
	return fmt.Sprintf("%s with %s, around %d degrees Celsius", location, condition, tempC), nil
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must not be empty", key)
	}
	return s, nil
}
