package main

// txQueueSize bounds the per-backend asynchronous TX queue. Overflow drops
// the frame and surfaces ErrTxOverflow to the enqueuer.
const txQueueSize = 1024
