package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the service-wide logger. Level defaults to info; set
// LOCALIZER_LOG_LEVEL to override (debug, warn, error).
func New(component string) *logrus.Entry {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if lvl, err := logrus.ParseLevel(os.Getenv("LOCALIZER_LOG_LEVEL")); err == nil {
		base.SetLevel(lvl)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}

	return base.WithField("component", component)
}
