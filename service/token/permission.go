package token

import (
	"context"
	"strings"
	"sync"
)

type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// PermissionStrategy hides the platform differences in notification
// permission handling. Implementations are selected once at startup.
type PermissionStrategy interface {
	Check(ctx context.Context) PermissionState
	// Request shows the platform prompt (when the platform has one) and
	// returns the resulting state.
	Request(ctx context.Context) PermissionState
	// SettingsLink is the deep link that opens the app's notification
	// settings, or "" when the platform has none.
	SettingsLink() string
}

// Prompter asks the user for permission. It blocks until the user
// answers.
type Prompter interface {
	Prompt(ctx context.Context) (bool, error)
}

// StaticPrompter answers every prompt the same way. The desktop host
// uses it; the decision comes from configuration.
type StaticPrompter struct {
	Grant bool
}

func (p StaticPrompter) Prompt(context.Context) (bool, error) { return p.Grant, nil }

// AlwaysGranted is the strategy for platforms without a runtime grant.
type AlwaysGranted struct{}

func (AlwaysGranted) Check(context.Context) PermissionState   { return PermissionGranted }
func (AlwaysGranted) Request(context.Context) PermissionState { return PermissionGranted }
func (AlwaysGranted) SettingsLink() string                    { return "" }

// RuntimeGrant models platforms where notifications need an explicit
// user grant. Once granted the state never goes back; a denial can only
// be lifted by another Request.
type RuntimeGrant struct {
	mu       sync.Mutex
	prompter Prompter
	state    PermissionState
	link     string
}

func NewRuntimeGrant(prompter Prompter, settingsLink string) *RuntimeGrant {
	return &RuntimeGrant{
		prompter: prompter,
		state:    PermissionUnknown,
		link:     settingsLink,
	}
}

func (g *RuntimeGrant) Check(context.Context) PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *RuntimeGrant) Request(ctx context.Context) PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == PermissionGranted {
		return g.state
	}
	granted, err := g.prompter.Prompt(ctx)
	if err != nil {
		// A prompt that could not be shown leaves the previous answer
		// in place.
		if g.state == PermissionUnknown {
			return PermissionUnknown
		}
		return g.state
	}
	if granted {
		g.state = PermissionGranted
	} else {
		g.state = PermissionDenied
	}
	return g.state
}

func (g *RuntimeGrant) SettingsLink() string { return g.link }

// androidRuntimeGrantLevel is the first Android API level with a runtime
// notification permission.
const androidRuntimeGrantLevel = 33

// StrategyFor picks the permission strategy for a platform. iOS always
// requires a grant, Android from API 33; everything else is granted.
func StrategyFor(platform string, apiLevel int, packageID string, prompter Prompter) PermissionStrategy {
	switch strings.ToLower(platform) {
	case "ios":
		return NewRuntimeGrant(prompter, "app-settings:")
	case "android":
		if apiLevel >= androidRuntimeGrantLevel {
			return NewRuntimeGrant(prompter, androidSettingsLink(packageID))
		}
	}
	return AlwaysGranted{}
}

func androidSettingsLink(packageID string) string {
	return "intent:#Intent;action=android.settings.APP_NOTIFICATION_SETTINGS;" +
		"S.android.provider.extra.APP_PACKAGE=" + packageID + ";end"
}
