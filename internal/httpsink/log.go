package httpsink

import "github.com/lanikai/alohadec/internal/logging"

var log = logging.DefaultLogger.WithTag("httpsink")
