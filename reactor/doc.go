// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode event reactor used by the server loop:
// a level-triggered epoll set with per-fd callbacks, an eventfd wakeup for
// cross-goroutine posts, and the raw non-blocking IPv4 socket calls the loop
// drives. Only Linux is implemented; other platforms get ErrNotSupported.
package reactor
