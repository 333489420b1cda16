package kmeans

import "errors"

var (
	errInvalidK = errors.New("kmeans: k must be positive")
	errNoRows   = errors.New("kmeans: no training rows provided")
)
