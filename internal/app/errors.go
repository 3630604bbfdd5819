package app

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrRetrieval    = errors.New("retrieval failed")
	ErrCompletion   = errors.New("completion failed")
	ErrDispatch     = errors.New("ingestion dispatch failed")
)
