//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "github.com/pkg/errors"

var (
	errNoVideoStream = errors.New("no compatible video stream found")
	errNotSeekable   = errors.New("source cannot be rewound")
)
