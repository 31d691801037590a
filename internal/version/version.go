// Package version хранит сведения о сборке, подставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/cafe/internal/version.version=v1.2.0"
package version

import "fmt"

// Name: имя сервиса в логах, health-ответах и client id Kafka.
const Name = "cafe-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

// String: строка для стартового лога.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// ClientID: идентификатор клиента для внешних систем, например "cafe-service/dev".
func ClientID() string {
	return Name + "/" + version
}
