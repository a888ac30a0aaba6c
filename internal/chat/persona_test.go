package chat

import (
	"strings"
	"testing"

	"github.com/surgutroads/roadwatch/internal/bridge"
)

func TestSystemDirectiveWithoutCapabilities(t *testing.T) {
	got := systemDirective(nil, "")
	if !strings.Contains(got, "Сургут") {
		t.Error("persona missing from directive")
	}
	if strings.Contains(got, "инструментам") {
		t.Error("capability roster present with zero capabilities")
	}
}

func TestSystemDirectiveListsCapabilities(t *testing.T) {
	caps := []bridge.Capability{
		{Name: "get_road_status", Description: "Состояние дорог по участку"},
		{Name: "list_cameras"},
	}
	got := systemDirective(caps, "")
	if !strings.Contains(got, "- get_road_status: Состояние дорог по участку") {
		t.Errorf("roster entry missing:\n%s", got)
	}
	if !strings.Contains(got, "- list_cameras\n") {
		t.Errorf("descriptionless entry malformed:\n%s", got)
	}
}

func TestSystemDirectiveSuggestionHint(t *testing.T) {
	caps := []bridge.Capability{{Name: "get_road_status"}}
	got := systemDirective(caps, "get_road_status")
	if !strings.Contains(got, "«get_road_status»") {
		t.Errorf("suggestion hint missing:\n%s", got)
	}
}
