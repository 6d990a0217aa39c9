package appointments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/carelink/core"
	"github.com/petal-labs/carelink/tokenstore"
	"github.com/petal-labs/carelink/transport"
)

const sample = `[{"appointment_id":"A1","date":"2025-08-12","time":"14:30","doctor":"Dr. Kerem","hospital":"Acibadem","status":"confirmed"}]`

func newService(t *testing.T, h http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemory()
	require.NoError(t, store.SaveAccessToken(context.Background(), "access"))
	return New(core.NewClient(transport.New(srv.URL), store))
}

func TestListWrappedResponse(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/get_appointments", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"respond":` + jsonString(sample) + `}`))
	})

	res := svc.List(context.Background())
	require.True(t, res.IsSuccess(), "err = %v", res.Err())
	assert.Equal(t, []Appointment{{
		ID:       "A1",
		DateTime: "2025-08-12 14:30",
		Doctor:   "Dr. Kerem",
		Hospital: "Acibadem",
		Status:   "confirmed",
	}}, res.Value())
}

func TestListPlainArray(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sample))
	})

	res := svc.List(context.Background())
	require.True(t, res.IsSuccess())
	require.Len(t, res.Value(), 1)
	assert.Equal(t, "A1", res.Value()[0].ID)
}

func TestListMalformed(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"respond":"not json"}`))
	})

	res := svc.List(context.Background())
	require.False(t, res.IsSuccess())
	assert.Equal(t, core.KindSerialization, res.Err().Kind)
}

func TestListRemoteError(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"tool execution error"}`))
	})

	res := svc.List(context.Background())
	require.False(t, res.IsSuccess())
	assert.Equal(t, core.KindRemote, res.Err().Kind)
	assert.Equal(t, "tool execution error", res.Err().Message)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"empty array", `[]`, 0, false},
		{"empty wrapped", `{"respond":"[]"}`, 0, false},
		{"missing respond", `{"other":1}`, 0, true},
		{"not json", `<html>`, 0, true},
		{"whitespace", "  \n" + sample, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
