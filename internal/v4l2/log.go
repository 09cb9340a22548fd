package v4l2

import "github.com/lanikai/alohadec/internal/logging"

var log = logging.DefaultLogger.WithTag("v4l2")
