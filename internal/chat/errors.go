package chat

import "errors"

var (
	ErrEmptyMessage       = errors.New("message has no text and no attachments")
	ErrMessageDeleted     = errors.New("message was deleted")
	ErrFileStoreDisabled  = errors.New("file storage is not configured")
	ErrInvalidPagination  = errors.New("invalid pagination")
	ErrUnknownSort        = errors.New("unknown sort field")
	ErrMissingIdentifiers = errors.New("missing required id")
)
