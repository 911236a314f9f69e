// pkg/natsbus/interface.go
package natsbus

import "context"

// Publisher описывает контракт публикации envelope-ов в NATS
// и проверки состояния соединения.
type Publisher interface {
	// Connect открывает постоянное соединение с NATS.
	Connect(ctx context.Context) error
	// Publish публикует сообщение в заданный subject.
	// Ошибки классифицированы: ErrDisconnected, ErrTimeout, ErrOther.
	// Ретраи — политика вызывающего.
	Publish(ctx context.Context, subject string, data []byte) error
	// Connected сообщает, активно ли соединение.
	Connected() bool
	// Close сбрасывает in-flight публикации в пределах deadline и закрывает соединение.
	Close() error
}
