package version

import (
	"fmt"
	"runtime"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/ordersync/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает сборку для /version и команды `ordersync version`.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Current возвращает сведения о сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
}

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

// UserAgent возвращает значение заголовка User-Agent для исходящих запросов.
func UserAgent() string {
	return "ordersync/" + version
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
