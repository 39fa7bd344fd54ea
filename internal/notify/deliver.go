package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Deliverer turns an envelope into an outbound message.
type Deliverer interface {
	Deliver(ctx context.Context, env Envelope) error
}

// Message is the rendered, transport-neutral form of an intent.
type Message struct {
	Subject string
	Body    string
}

// Render builds the message text for a known intent key.
func Render(env Envelope) (Message, error) {
	switch env.Key {
	case RKUserRegistered:
		ev, err := Decode[UserRegistered](env)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Subject: "Welcome to the clinic",
			Body:    fmt.Sprintf("Hi %s, thank you for registering as a %s.", ev.FirstName, ev.Role),
		}, nil

	case RKAppointmentBooked:
		ev, err := Decode[AppointmentBooked](env)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Subject: "Appointment confirmed",
			Body: fmt.Sprintf("Appointment %s is booked for %s - %s.",
				ev.AppointmentID, ev.Start.Format("2006-01-02 15:04"), ev.End.Format("15:04")),
		}, nil

	case RKAppointmentCancelled, RKAppointmentCompleted:
		ev, err := Decode[AppointmentStatusChanged](env)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Subject: "Appointment " + ev.Status,
			Body:    fmt.Sprintf("Appointment %s is now %s.", ev.AppointmentID, ev.Status),
		}, nil

	case RKMedicalRecordCreated:
		ev, err := Decode[MedicalRecordCreated](env)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Subject: "New medical record added",
			Body:    fmt.Sprintf("A new medical record was added for appointment %s.", ev.AppointmentID),
		}, nil
	}
	return Message{}, fmt.Errorf("unknown intent key %q", env.Key)
}

// LogDeliverer writes rendered messages to the log. Unknown keys are logged
// and acknowledged.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

func (l *LogDeliverer) Deliver(_ context.Context, env Envelope) error {
	msg, err := Render(env)
	if err != nil {
		l.logger.Warn("skip notification", zap.String("key", env.Key), zap.Error(err))
		return nil
	}
	l.logger.Info("notification delivered",
		zap.String("intent_id", env.ID.String()),
		zap.String("key", env.Key),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// LogPublisher is a Publisher that delivers straight to the log. It stands in
// for the broker when RABBIT_URL is unset.
type LogPublisher struct {
	d *LogDeliverer
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{d: NewLogDeliverer(logger)}
}

func (p *LogPublisher) Publish(ctx context.Context, env Envelope) error {
	return p.d.Deliver(ctx, env)
}
