package payloads

import "time"

// AvatarReleasePayload представляет задачу на удаление файла аватара
// из файлового хранилища через RabbitMQ.
type AvatarReleasePayload struct {
	Ref         string    `json:"ref"`
	RequestedAt time.Time `json:"requested_at"`
}
