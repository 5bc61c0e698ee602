package client

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/plotkeeper/internal/common"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = fmt.Errorf("remote: %w", common.ErrorUnauthorized)
)
