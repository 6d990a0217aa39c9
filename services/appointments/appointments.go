// Package appointments lists the signed-in patient's appointments.
package appointments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/petal-labs/carelink/core"
)

// Path is the appointments endpoint, relative to the API root.
const Path = "/get_appointments"

// Appointment is one scheduled visit.
type Appointment struct {
	ID       string `json:"id"`
	DateTime string `json:"date_time"`
	Doctor   string `json:"doctor"`
	Hospital string `json:"hospital"`
	Status   string `json:"status"`
}

// record is the wire form of an appointment.
type record struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Doctor        string `json:"doctor"`
	Hospital      string `json:"hospital"`
	Status        string `json:"status"`
}

// envelope wraps the list as a JSON-encoded string.
type envelope struct {
	Respond *string `json:"respond"`
}

// Service reads appointments through a core.Client.
type Service struct {
	client *core.Client
}

// New creates a Service.
func New(client *core.Client) *Service {
	return &Service{client: client}
}

// List fetches all appointments.
func (s *Service) List(ctx context.Context) core.Result[[]Appointment] {
	res := s.client.Execute(ctx, core.RequestSpec{
		Method: core.MethodGet,
		Auth:   core.AuthAccess,
		Path:   Path,
	})
	return core.MapResult(res, func(resp *core.Response) core.Result[[]Appointment] {
		list, err := Decode(resp.Body)
		if err != nil {
			return core.Failure[[]Appointment](core.NewSerializationError(err))
		}
		return core.Success(list)
	})
}

// Decode parses an appointments body. The list is either a JSON array or an
// object whose "respond" field holds the array as a string.
func Decode(body []byte) ([]Appointment, error) {
	raw := bytes.TrimSpace(body)
	if len(raw) > 0 && raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if env.Respond == nil {
			return nil, fmt.Errorf("appointments: missing respond field")
		}
		raw = []byte(*env.Respond)
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	out := make([]Appointment, 0, len(records))
	for _, r := range records {
		out = append(out, Appointment{
			ID:       r.AppointmentID,
			DateTime: r.Date + " " + r.Time,
			Doctor:   r.Doctor,
			Hospital: r.Hospital,
			Status:   r.Status,
		})
	}
	return out, nil
}
