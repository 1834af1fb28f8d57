package sip

// Header-typed aliases. Several call sites in the parsing layer refer to
// these headers by their RFC-section name with a "Header" suffix; keep one
// canonical type per header and expose both spellings rather than having two
// divergent definitions drift apart.
type (
	CallIDHeader        = CallID
	CSeqHeader          = CSeq
	MaxForwardsHeader   = MaxForwards
	ContentLengthHeader = ContentLength
	ContentTypeHeader   = ContentType
)
