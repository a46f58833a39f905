package suggestion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/kisanmitra/voice-client/internal/model/suggestion"
)

func newRouter() http.Handler {
	store := suggestion.NewMemoryStore([]suggestion.Suggestion{
		{ID: "market", Category: "market", Prompts: map[string]string{"hi": "प्याज का भाव?", "en": "Onion price?"}},
		{ID: "crops", Category: "crops", Prompts: map[string]string{"hi": "कौन सी फसल?"}},
	})
	r := chi.NewRouter()
	New(store, "hi").RegisterRoutes(r)
	return r
}

func TestListSuggestions(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  []suggestion.Localized
	}{
		{
			name:  "default language",
			query: "",
			want: []suggestion.Localized{
				{ID: "market", Category: "market", Text: "प्याज का भाव?"},
				{ID: "crops", Category: "crops", Text: "कौन सी फसल?"},
			},
		},
		{
			name:  "english falls back per prompt",
			query: "?lang=en-IN",
			want: []suggestion.Localized{
				{ID: "market", Category: "market", Text: "Onion price?"},
				{ID: "crops", Category: "crops", Text: "कौन सी फसल?"},
			},
		},
	}

	h := newRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/suggestions"+tc.query, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("unexpected status: %d", rr.Code)
			}
			var got []suggestion.Localized
			if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("suggestions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
