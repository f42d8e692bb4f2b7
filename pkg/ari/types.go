package ari

import "strings"

// Технологии каналов по префиксу имени
const (
	TechPJSIP         = "PJSIP/"
	TechExternalMedia = "UnicastRTP/"

	// DialplanAppStasis имя dialplan приложения канала, находящегося в ARI приложении
	DialplanAppStasis = "Stasis"
)

// Типы событий ARI, которые обрабатывает мост
const (
	EventStasisStart = "StasisStart"
	EventStasisEnd   = "StasisEnd"
)

// CallerID номер и имя стороны вызова
type CallerID struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
}

// DialplanCEP положение канала в dialplan
type DialplanCEP struct {
	Context  string `json:"context,omitempty"`
	Exten    string `json:"exten,omitempty"`
	Priority int64  `json:"priority,omitempty"`
	AppName  string `json:"app_name,omitempty"`
	AppData  string `json:"app_data,omitempty"`
}

// Channel канал Asterisk в представлении ARI
type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	State     string      `json:"state,omitempty"`
	Caller    CallerID    `json:"caller"`
	Connected CallerID    `json:"connected"`
	Dialplan  DialplanCEP `json:"dialplan"`
}

// IsTelephony реальный телефонный канал (входящий звонок)
func (c Channel) IsTelephony() bool {
	return strings.HasPrefix(c.Name, TechPJSIP)
}

// IsExternalMedia синтетический канал внешнего медиа
func (c Channel) IsExternalMedia() bool {
	return strings.HasPrefix(c.Name, TechExternalMedia)
}

// InApp канал находится в ARI приложении app
func (c Channel) InApp(app string) bool {
	return c.Dialplan.AppName == DialplanAppStasis && c.Dialplan.AppData == app
}

// Bridge мост смешивания
type Bridge struct {
	ID         string   `json:"id"`
	BridgeType string   `json:"bridge_type,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// Event конверт события из потока /ari/events
type Event struct {
	Type        string   `json:"type"`
	Application string   `json:"application,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Channel     *Channel `json:"channel,omitempty"`
	Args        []string `json:"args,omitempty"`
}

// Arg возвращает i-й аргумент приложения или пустую строку
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// OriginateParams параметры создания исходящего канала
type OriginateParams struct {
	Endpoint string
	App      string
	// AppArgs метка корреляции, приходит в args события StasisStart
	AppArgs  string
	CallerID string
}

// ExternalMediaParams параметры канала внешнего медиа
type ExternalMediaParams struct {
	App string
	// ExternalHost host:port, куда Asterisk шлет RTP
	ExternalHost string
	Format       string
}
