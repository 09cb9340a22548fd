package decoder

import "github.com/lanikai/alohadec/internal/logging"

var log = logging.DefaultLogger.WithTag("decoder")
