// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package server

import (
	"errors"

	"github.com/corinnepritchard/dhcpkit/extensions"
	"github.com/corinnepritchard/dhcpkit/handler"
	"github.com/corinnepritchard/dhcpkit/transaction"
	"github.com/insomniacslk/dhcp/dhcpv6"
	dhcpiana "github.com/insomniacslk/dhcp/iana"
)

// MessageHandler drives one received message through the whole pipeline:
// it unwraps relay encapsulation, builds the transaction bundle, runs the
// extension setup handlers, the configured filter/handler tree and the
// extension cleanup handlers, applies the protocol policies that do not
// belong to any single handler, and wraps the response back into the
// relay chain.
type MessageHandler struct {
	serverID              dhcpv6.DUID
	allowRapidCommit      bool
	rapidCommitRejections bool

	// handlers is the flattened run order: extension setup handlers,
	// then the configured sub-filters and sub-handlers, then extension
	// cleanup handlers. Each phase runs over the whole slice before the
	// next phase starts, so marks added in pre are visible to every
	// filter by the time handle runs.
	handlers []handler.Handler
}

// NewMessageHandler builds a message handler for the given server DUID
// and configured tree. The extension registry is queried once, here;
// extensions registered later are not picked up.
func NewMessageHandler(serverID dhcpv6.DUID, subFilters, subHandlers []handler.Handler,
	allowRapidCommit, rapidCommitRejections bool) *MessageHandler {

	var chain []handler.Handler
	chain = append(chain, extensions.SetupHandlers()...)
	chain = append(chain, subFilters...)
	chain = append(chain, subHandlers...)
	chain = append(chain, extensions.CleanupHandlers()...)

	return &MessageHandler{
		serverID:              serverID,
		allowRapidCommit:      allowRapidCommit,
		rapidCommitRejections: rapidCommitRejections,
		handlers:              chain,
	}
}

// WorkerInit initialises every handler in the tree once, before the
// worker pool starts serving requests with it.
func (h *MessageHandler) WorkerInit() error {
	for _, hd := range h.handlers {
		if err := hd.WorkerInit(); err != nil {
			return err
		}
	}
	return nil
}

// Message types a server sends; receiving one of these means someone is
// confused and the message must be ignored.
func serverOriginated(t dhcpv6.MessageType) bool {
	switch t {
	case dhcpv6.MessageTypeAdvertise, dhcpv6.MessageTypeReply,
		dhcpv6.MessageTypeReconfigure, dhcpv6.MessageTypeRelayReply:
		return true
	}
	return false
}

func clientOriginated(t dhcpv6.MessageType) bool {
	switch t {
	case dhcpv6.MessageTypeSolicit, dhcpv6.MessageTypeRequest,
		dhcpv6.MessageTypeConfirm, dhcpv6.MessageTypeRenew,
		dhcpv6.MessageTypeRebind, dhcpv6.MessageTypeRelease,
		dhcpv6.MessageTypeDecline, dhcpv6.MessageTypeInformationRequest:
		return true
	}
	return false
}

// Handle processes one received message and returns the message to send
// back, or nil when the request must be silently dropped. The marks are
// contributed by the listener the message arrived on.
func (h *MessageHandler) Handle(received dhcpv6.DHCPv6, receivedOverMulticast bool, marks []string) dhcpv6.DHCPv6 {
	request, incoming := unwrapRelayChain(received)
	if request == nil || serverOriginated(request.MessageType) {
		log.Warningf("A server should not receive %s messages, ignoring", received.Type())
		return nil
	}
	if !clientOriginated(request.MessageType) {
		log.Warningf("Do not know how to reply to %s, ignoring", request.MessageType)
		return nil
	}

	// A Confirm without a single IA in it gets silently ignored, as
	// RFC 8415 section 18.3.3 demands.
	if request.MessageType == dhcpv6.MessageTypeConfirm && !hasIAOptions(request) {
		log.Debugf("Ignoring %s without any IA options", request.MessageType)
		return nil
	}

	log.Debugf("Handling %s", request.MessageType)

	bundle := transaction.NewBundle(request, receivedOverMulticast, marks)
	bundle.IncomingRelayMessages = incoming
	bundle.AllowRapidCommit = h.allowRapidCommit
	bundle.RapidCommitRejections = h.rapidCommitRejections

	if err := h.runHandlers(bundle); err != nil {
		h.translateHandlerError(bundle, err)
	} else {
		h.applyPolicies(bundle)
	}

	if bundle.Response == nil {
		return nil
	}
	return h.rewrapRelayChain(bundle)
}

// runHandlers runs the pre phase on every handler, initialises the
// response, then runs the handle and post phases, with the rapid commit
// rewrite squeezed between them so that post sees the final response
// type.
func (h *MessageHandler) runHandlers(bundle *transaction.Bundle) error {
	for _, hd := range h.handlers {
		if err := hd.Pre(bundle); err != nil {
			return err
		}
	}

	h.initResponse(bundle)

	for _, hd := range h.handlers {
		if err := hd.Handle(bundle); err != nil {
			return err
		}
	}

	h.applyRapidCommit(bundle)

	for _, hd := range h.handlers {
		if err := hd.Post(bundle); err != nil {
			return err
		}
	}
	return nil
}

// initResponse builds the provisional response: the class matching the
// request class, carrying the transaction id and the client's own
// identifier, plus our server identifier. The outgoing relay chain comes
// into existence at the same moment.
func (h *MessageHandler) initResponse(bundle *transaction.Bundle) {
	responseType := dhcpv6.MessageTypeReply
	if bundle.Request.MessageType == dhcpv6.MessageTypeSolicit {
		responseType = dhcpv6.MessageTypeAdvertise
	}

	response := &dhcpv6.Message{
		MessageType:   responseType,
		TransactionID: bundle.Request.TransactionID,
	}
	if clientID := bundle.Request.Options.ClientID(); clientID != nil {
		response.AddOption(dhcpv6.OptClientID(clientID))
	}
	response.AddOption(dhcpv6.OptServerID(h.serverID))

	bundle.Response = response
	bundle.CreateOutgoingRelayMessages()
}

// translateHandlerError maps an abort signalled by a handler onto the
// resulting bundle state.
func (h *MessageHandler) translateHandlerError(bundle *transaction.Bundle, err error) {
	switch {
	case errors.Is(err, handler.ErrCannotRespond):
		log.Infof("Not responding to %s: %v", bundle.Request.MessageType, err)
		bundle.Response = nil
	case errors.Is(err, handler.ErrUseMulticast):
		if bundle.ReceivedOverMulticast {
			log.Error("Not telling client to use multicast, it already does")
			bundle.Response = nil
			return
		}
		bundle.Response = h.useMulticastReply(bundle)
	default:
		log.Errorf("Handler failed while processing %s, dropping request: %v", bundle.Request.MessageType, err)
		bundle.Response = nil
	}
}

// applyPolicies runs the protocol policies that apply after the handler
// tree has finished: the unicast policy, the Confirm answer and the
// default-deny statuses for unanswered IA requests.
func (h *MessageHandler) applyPolicies(bundle *transaction.Bundle) {
	// Clients must multicast unless a handler said otherwise. Messages
	// that came through a relay always reach us over unicast, that is
	// how relaying works, so they are exempt.
	if !bundle.ReceivedOverMulticast && len(bundle.IncomingRelayMessages) == 0 &&
		!bundle.MarkedWith(transaction.MarkAllowUnicast) {
		log.Infof("Rejecting unicast %s", bundle.Request.MessageType)
		bundle.Response = h.useMulticastReply(bundle)
		return
	}

	if bundle.Request.MessageType == dhcpv6.MessageTypeConfirm &&
		!bundle.MarkedWith(transaction.MarkConfirmed) {
		log.Warningf("No handler confirmed %s, answering not-on-link", bundle.Request.MessageType)
		bundle.Response.UpdateOption(&dhcpv6.OptStatusCode{
			StatusCode:    dhcpiana.StatusNotOnLink,
			StatusMessage: "Those addresses are not appropriate on this link",
		})
		return
	}

	h.answerRemainingIAs(bundle)
}

// answerRemainingIAs makes sure every IA container the client asked
// about gets an answer: requested IAs that no handler responded to are
// mirrored onto the response, and IA containers that ended up without
// any address or prefix get the matching no-resources status code.
func (h *MessageHandler) answerRemainingIAs(bundle *transaction.Bundle) {
	switch bundle.Request.MessageType {
	case dhcpv6.MessageTypeSolicit, dhcpv6.MessageTypeRequest,
		dhcpv6.MessageTypeRenew, dhcpv6.MessageTypeRebind:
	default:
		return
	}

	response := bundle.Response

	for _, reqIA := range bundle.Request.Options.IANA() {
		respIA := findIANA(response, reqIA.IaId)
		if respIA == nil {
			respIA = &dhcpv6.OptIANA{IaId: reqIA.IaId}
			response.AddOption(respIA)
		}
		if len(respIA.Options.Addresses()) == 0 && respIA.Options.Status() == nil {
			respIA.Options.Add(&dhcpv6.OptStatusCode{
				StatusCode:    dhcpiana.StatusNoAddrsAvail,
				StatusMessage: "No addresses available",
			})
		}
	}

	for _, reqIA := range iatas(bundle.Request) {
		respIA := findIATA(response, reqIA.IaId)
		if respIA == nil {
			respIA = &dhcpv6.OptIATA{IaId: reqIA.IaId}
			response.AddOption(respIA)
		}
		if len(respIA.Options.Addresses()) == 0 && respIA.Options.Status() == nil {
			respIA.Options.Add(&dhcpv6.OptStatusCode{
				StatusCode:    dhcpiana.StatusNoAddrsAvail,
				StatusMessage: "No addresses available",
			})
		}
	}

	for _, reqIA := range bundle.Request.Options.IAPD() {
		respIA := findIAPD(response, reqIA.IaId)
		if respIA == nil {
			respIA = &dhcpv6.OptIAPD{IaId: reqIA.IaId}
			response.AddOption(respIA)
		}
		if len(respIA.Options.Prefixes()) == 0 && respIA.Options.Status() == nil {
			respIA.Options.Add(&dhcpv6.OptStatusCode{
				StatusCode:    dhcpiana.StatusNoPrefixAvail,
				StatusMessage: "No prefixes available",
			})
		}
	}
}

// applyRapidCommit rewrites the Advertise into a committing Reply when
// the client asked for rapid commit and our policy allows it. This is
// the only point where the response class changes after the handle
// phase; handlers see the rewritten response in post.
func (h *MessageHandler) applyRapidCommit(bundle *transaction.Bundle) {
	if bundle.Request.MessageType != dhcpv6.MessageTypeSolicit || !bundle.AllowRapidCommit {
		return
	}
	if bundle.Request.GetOneOption(dhcpv6.OptionRapidCommit) == nil {
		return
	}
	if bundle.Response == nil || bundle.Response.MessageType != dhcpv6.MessageTypeAdvertise {
		return
	}
	// Without rapid-commit-rejections only a fully successful response
	// is worth committing; a rejection should go through the normal
	// four-message exchange so the client can try another server.
	if !bundle.RapidCommitRejections && !responseCommittable(bundle) {
		return
	}

	log.Debugf("Promoting %s to a rapid commit Reply", bundle.Response.MessageType)
	reply := &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeReply,
		TransactionID: bundle.Response.TransactionID,
		Options:       bundle.Response.Options,
	}
	reply.UpdateOption(&dhcpv6.OptionGeneric{OptionCode: dhcpv6.OptionRapidCommit})
	bundle.Response = reply
}

// responseCommittable reports whether the response answers every IA the
// client asked about with at least one address or prefix and carries no
// failure status anywhere.
func responseCommittable(bundle *transaction.Bundle) bool {
	response := bundle.Response
	if st := response.Options.Status(); st != nil && st.StatusCode != dhcpiana.StatusSuccess {
		return false
	}

	for _, reqIA := range bundle.Request.Options.IANA() {
		respIA := findIANA(response, reqIA.IaId)
		if respIA == nil || len(respIA.Options.Addresses()) == 0 {
			return false
		}
		if st := respIA.Options.Status(); st != nil && st.StatusCode != dhcpiana.StatusSuccess {
			return false
		}
	}
	for _, reqIA := range iatas(bundle.Request) {
		respIA := findIATA(response, reqIA.IaId)
		if respIA == nil || len(respIA.Options.Addresses()) == 0 {
			return false
		}
		if st := respIA.Options.Status(); st != nil && st.StatusCode != dhcpiana.StatusSuccess {
			return false
		}
	}
	for _, reqIA := range bundle.Request.Options.IAPD() {
		respIA := findIAPD(response, reqIA.IaId)
		if respIA == nil || len(respIA.Options.Prefixes()) == 0 {
			return false
		}
		if st := respIA.Options.Status(); st != nil && st.StatusCode != dhcpiana.StatusSuccess {
			return false
		}
	}
	return true
}

// useMulticastReply builds the Reply that tells the client to come back
// over multicast. It intentionally carries nothing but the identifiers
// and the status code.
func (h *MessageHandler) useMulticastReply(bundle *transaction.Bundle) *dhcpv6.Message {
	log.Debug("Replying that multicast is required")
	reply := &dhcpv6.Message{
		MessageType:   dhcpv6.MessageTypeReply,
		TransactionID: bundle.Request.TransactionID,
	}
	if clientID := bundle.Request.Options.ClientID(); clientID != nil {
		reply.AddOption(dhcpv6.OptClientID(clientID))
	}
	reply.AddOption(dhcpv6.OptServerID(h.serverID))
	reply.AddOption(&dhcpv6.OptStatusCode{
		StatusCode:    dhcpiana.StatusUseMulticast,
		StatusMessage: "This server does not accept unicast requests",
	})
	return reply
}

// rewrapRelayChain wraps the response back into the outgoing relay
// chain, innermost frame first, and returns the outermost message to
// transmit. Without a relay chain the bare response is returned.
func (h *MessageHandler) rewrapRelayChain(bundle *transaction.Bundle) dhcpv6.DHCPv6 {
	if len(bundle.IncomingRelayMessages) == 0 {
		return bundle.Response
	}
	if !bundle.RelayChainsMatch() {
		log.Warningf("Relay chains for %s have different lengths, dropping response", bundle.Request.MessageType)
		return nil
	}

	var payload dhcpv6.DHCPv6 = bundle.Response
	for i := len(bundle.OutgoingRelayMessages) - 1; i >= 0; i-- {
		frame := bundle.OutgoingRelayMessages[i]
		frame.UpdateOption(dhcpv6.OptRelayMessage(payload))
		payload = frame
	}
	return payload
}

// unwrapRelayChain peels relay-forward frames off the received message
// until the client message inside is found. The frames are returned from
// the outermost to the innermost. A nil message means there was nothing
// usable inside.
func unwrapRelayChain(received dhcpv6.DHCPv6) (*dhcpv6.Message, []*dhcpv6.RelayMessage) {
	var chain []*dhcpv6.RelayMessage
	current := received
	for current != nil {
		relay, ok := current.(*dhcpv6.RelayMessage)
		if !ok || relay.MessageType != dhcpv6.MessageTypeRelayForward {
			break
		}
		chain = append(chain, relay)
		current = relay.Options.RelayMessage()
	}
	message, ok := current.(*dhcpv6.Message)
	if !ok {
		return nil, chain
	}
	return message, chain
}

func hasIAOptions(message *dhcpv6.Message) bool {
	return len(message.Options.IANA()) > 0 ||
		len(iatas(message)) > 0 ||
		len(message.Options.IAPD()) > 0
}

func findIANA(message *dhcpv6.Message, iaid [4]byte) *dhcpv6.OptIANA {
	for _, ia := range message.Options.IANA() {
		if ia.IaId == iaid {
			return ia
		}
	}
	return nil
}

func findIATA(message *dhcpv6.Message, iaid [4]byte) *dhcpv6.OptIATA {
	for _, ia := range iatas(message) {
		if ia.IaId == iaid {
			return ia
		}
	}
	return nil
}

func findIAPD(message *dhcpv6.Message, iaid [4]byte) *dhcpv6.OptIAPD {
	for _, ia := range message.Options.IAPD() {
		if ia.IaId == iaid {
			return ia
		}
	}
	return nil
}

// iatas collects the IA_TA containers of a message. The upstream options
// type has no accessor for them, so we filter by option code.
func iatas(message *dhcpv6.Message) []*dhcpv6.OptIATA {
	var out []*dhcpv6.OptIATA
	for _, opt := range message.GetOption(dhcpv6.OptionIATA) {
		if ia, ok := opt.(*dhcpv6.OptIATA); ok {
			out = append(out, ia)
		}
	}
	return out
}
