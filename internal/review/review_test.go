package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want string
	}{
		{"ok", Submission{Username: "ann", Rating: 5, ReviewText: "Really great app"}, ""},
		{"no username", Submission{Username: "  ", Rating: 5, ReviewText: "Really great app"}, MsgUsername},
		{"rating zero", Submission{Username: "ann", Rating: 0, ReviewText: "Really great app"}, MsgRating},
		{"rating six", Submission{Username: "ann", Rating: 6, ReviewText: "Really great app"}, MsgRating},
		{"nine chars", Submission{Username: "ann", Rating: 3, ReviewText: "123456789"}, MsgTooShort},
		{"padded", Submission{Username: "ann", Rating: 3, ReviewText: "   12345678   "}, MsgTooShort},
		{"ten runes", Submission{Username: "ann", Rating: 3, ReviewText: "отличнооо!"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sub)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.want, ve.Message)
		})
	}
}

func TestSubmitRejectsLocally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	relay := NewRelay(srv.URL, 0, nil)
	res := relay.Submit(context.Background(), Submission{Username: "ann", Rating: 3, ReviewText: "123456789"})
	assert.False(t, res.Success)
	assert.Equal(t, "Review must be at least 10 characters", res.Error)
	assert.Zero(t, calls.Load())
}

func TestSubmitForwards(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	relay := NewRelay(srv.URL, 0, nil)
	res := relay.Submit(context.Background(), Submission{Username: " ann ", Rating: 4, ReviewText: " Love the stories feature "})
	assert.Equal(t, Result{Success: true}, res)
	assert.Equal(t, "ann", got.Username)
	assert.Equal(t, 4, got.Rating)
	assert.Equal(t, "Love the stories feature", got.ReviewText)
	assert.Contains(t, got.Content, "★★★★ ☆")
}

func TestSubmitUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := NewRelay(srv.URL, 0, nil).Submit(context.Background(), Submission{Username: "ann", Rating: 2, ReviewText: "Crashes on start"})
	assert.Equal(t, Result{Error: MsgUpstream}, res)

	srv.Close()
	res = NewRelay(srv.URL, 0, nil).Submit(context.Background(), Submission{Username: "ann", Rating: 2, ReviewText: "Crashes on start"})
	assert.False(t, res.Success)
}

func TestSubmitDisabled(t *testing.T) {
	res := NewRelay("", 0, nil).Submit(context.Background(), Submission{Username: "ann", Rating: 2, ReviewText: "Crashes on start"})
	assert.Equal(t, Result{Error: MsgDisabled}, res)
}
