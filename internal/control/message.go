/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package control

import liberr "github.com/ryantm/sozu/internal/errors"

// Status is a ServerMessage's three-way outcome: Ok, Processing, or
// Error with a message.
type Status int

const (
	StatusOk Status = iota
	StatusProcessing
	StatusError
)

// ServerMessage is the reply to one Order. The Error variant always
// carries a machine-readable CodeError alongside the free-text
// message.
type ServerMessage struct {
	ID      string
	Status  Status
	Message string
	Code    liberr.CodeError
}

// Ok builds a ServerMessage{Status: Ok} reply.
func Ok(id string) ServerMessage { return ServerMessage{ID: id, Status: StatusOk} }

// Processing builds a ServerMessage{Status: Processing} reply, used
// for orders whose effect completes asynchronously (e.g. SOFT_STOP).
func Processing(id string) ServerMessage { return ServerMessage{ID: id, Status: StatusProcessing} }

// ErrorMessage builds a ServerMessage{Status: Error} reply from a
// coded error.
func ErrorMessage(id string, err liberr.Error) ServerMessage {
	return ServerMessage{ID: id, Status: StatusError, Message: err.Error(), Code: err.Code()}
}

// Handler applies one decoded Order against an engine's tables and
// returns the reply to send back through the supervisor. Each
// protocol engine registers the Handler for the topics it owns.
type Handler func(Order) ServerMessage

// Router dispatches a decoded Order to every Handler registered for
// the topics its Tag affects, and to no other.
type Router struct {
	handlers map[Topic]Handler
}

// NewRouter builds an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Topic]Handler)}
}

// Register binds topic to handler. CONFIGURE_HTTP_PROXY only ever
// reaches the TopicHTTP handler, CONFIGURE_TLS_PROXY only TopicTLS;
// the two tags stay distinct end to end.
func (r *Router) Register(topic Topic, handler Handler) {
	r.handlers[topic] = handler
}

// Dispatch applies o to every topic its Tag targets and returns one
// reply per topic reached. A STATUS/SOFT_STOP/HARD_STOP order reaches
// every registered topic; a front/config order reaches only its own.
func (r *Router) Dispatch(o Order) []ServerMessage {
	topics := o.Tag.Topics()
	if len(topics) == 0 {
		return []ServerMessage{{ID: o.ID, Status: StatusError, Message: "unknown order tag"}}
	}

	replies := make([]ServerMessage, 0, len(topics))
	for _, topic := range topics {
		h, ok := r.handlers[topic]
		if !ok {
			continue
		}
		replies = append(replies, h(o))
	}
	return replies
}
