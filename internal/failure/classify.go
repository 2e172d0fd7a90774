// Package failure maps provider-reported termination causes and SIP status
// codes onto the dialer's fixed failure taxonomy.
package failure

import "strings"

type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeBusy                  Code = "BUSY"
	CodeUnavailable           Code = "UNAVAILABLE"
	CodeRejected              Code = "REJECTED"
	CodeAddressIncomplete     Code = "ADDRESS_INCOMPLETE"
	CodeIncompatibleSDP       Code = "INCOMPATIBLE_SDP"
	CodeMissingSDP            Code = "MISSING_SDP"
	CodeAuthenticationError   Code = "AUTHENTICATION_ERROR"
	CodeRequestTimeout        Code = "REQUEST_TIMEOUT"
	CodeNoAnswer              Code = "NO_ANSWER"
	CodeConnectionError       Code = "CONNECTION_ERROR"
	CodeUserDeniedMediaAccess Code = "USER_DENIED_MEDIA_ACCESS"
	CodeRTPTimeout            Code = "RTP_TIMEOUT"
	CodeDialogError           Code = "DIALOG_ERROR"
	CodeNoACK                 Code = "NO_ACK"
	CodeExpires               Code = "EXPIRES"
	CodeCanceled              Code = "CANCELED"
	CodePlacementError        Code = "PLACEMENT_ERROR"
	CodeUnknown               Code = "UNKNOWN"
)

type Category string

const (
	CategoryDestination Category = "destination"
	CategoryNetwork     Category = "network"
	CategoryMedia       Category = "media"
	CategoryAuth        Category = "auth"
	CategoryTimeout     Category = "timeout"
	CategoryCanceled    Category = "canceled"
	CategoryUnknown     Category = "unknown"
)

// Event is what the session provider reports when a call terminates.
type Event struct {
	Cause        string
	StatusCode   int
	ReasonPhrase string
}

type Classification struct {
	Code       Code
	Category   Category
	StatusCode int
	Phrase     string
}

type entry struct {
	code     Code
	category Category
	phrase   string
}

var (
	notFound          = entry{CodeNotFound, CategoryDestination, "Número inexistente"}
	busy              = entry{CodeBusy, CategoryDestination, "Número ocupado"}
	unavailable       = entry{CodeUnavailable, CategoryDestination, "Destino indisponível"}
	rejected          = entry{CodeRejected, CategoryDestination, "Chamada rejeitada"}
	addressIncomplete = entry{CodeAddressIncomplete, CategoryDestination, "Número incompleto"}
	incompatibleSDP   = entry{CodeIncompatibleSDP, CategoryMedia, "Mídia incompatível"}
	missingSDP        = entry{CodeMissingSDP, CategoryMedia, "Descrição de mídia ausente"}
	authError         = entry{CodeAuthenticationError, CategoryAuth, "Falha de autenticação"}
	requestTimeout    = entry{CodeRequestTimeout, CategoryTimeout, "Tempo de resposta esgotado"}
	noAnswer          = entry{CodeNoAnswer, CategoryTimeout, "Sem resposta"}
	connectionError   = entry{CodeConnectionError, CategoryNetwork, "Erro de conexão"}
	mediaDenied       = entry{CodeUserDeniedMediaAccess, CategoryMedia, "Acesso ao microfone negado"}
	rtpTimeout        = entry{CodeRTPTimeout, CategoryNetwork, "Tempo de mídia esgotado"}
	dialogError       = entry{CodeDialogError, CategoryNetwork, "Erro de diálogo"}
	noACK             = entry{CodeNoACK, CategoryNetwork, "Confirmação não recebida"}
	expires           = entry{CodeExpires, CategoryTimeout, "Convite expirado"}
	canceled          = entry{CodeCanceled, CategoryCanceled, "Chamada cancelada"}
	unknown           = entry{CodeUnknown, CategoryUnknown, "Falha desconhecida"}
)

var byStatus = map[int]entry{
	401: authError,
	404: notFound,
	407: authError,
	408: requestTimeout,
	480: unavailable,
	484: addressIncomplete,
	486: busy,
	487: canceled,
	488: incompatibleSDP,
	503: unavailable,
	600: busy,
	603: rejected,
	606: incompatibleSDP,
}

// Matched in order against the normalized cause; more specific keys come first.
var byCause = []struct {
	key string
	e   entry
}{
	{"USER_DENIED_MEDIA_ACCESS", mediaDenied},
	{"NOT_FOUND", notFound},
	{"BUSY", busy},
	{"UNAVAILABLE", unavailable},
	{"REJECTED", rejected},
	{"ADDRESS_INCOMPLETE", addressIncomplete},
	{"INCOMPATIBLE_SDP", incompatibleSDP},
	{"MISSING_SDP", missingSDP},
	{"AUTHENTICATION", authError},
	{"REQUEST_TIMEOUT", requestTimeout},
	{"NO_ANSWER", noAnswer},
	{"CONNECTION_ERROR", connectionError},
	{"RTP_TIMEOUT", rtpTimeout},
	{"DIALOG_ERROR", dialogError},
	{"NO_ACK", noACK},
	{"EXPIRES", expires},
	{"CANCELED", canceled},
	{"CANCELLED", canceled},
}

// Classify resolves a termination event. A known status code wins over the
// textual cause; anything unmatched is UNKNOWN.
func Classify(ev Event) Classification {
	if e, ok := byStatus[ev.StatusCode]; ok {
		return e.classification(ev)
	}
	cause := normalize(ev.Cause)
	if cause != "" {
		for _, c := range byCause {
			if strings.Contains(cause, c.key) {
				return c.e.classification(ev)
			}
		}
	}
	return unknown.classification(ev)
}

// Placement is the classification of a call the provider refused to place.
func Placement(err error) Classification {
	phrase := "Falha ao originar chamada"
	if err != nil {
		phrase += ": " + err.Error()
	}
	return Classification{Code: CodePlacementError, Category: CategoryUnknown, Phrase: phrase}
}

// IsNormalTermination reports whether a failed notification actually describes
// a call that ended normally.
func IsNormalTermination(cause string) bool {
	switch normalize(cause) {
	case "TERMINATED", "BYE":
		return true
	}
	return false
}

// IsNoAnswer reports whether a classified failure counts as an unanswered call.
func IsNoAnswer(code Code) bool {
	s := string(code)
	return strings.Contains(s, string(CodeNoAnswer)) ||
		strings.Contains(s, string(CodeRequestTimeout)) ||
		strings.Contains(s, string(CodeCanceled))
}

func (e entry) classification(ev Event) Classification {
	return Classification{
		Code:       e.code,
		Category:   e.category,
		StatusCode: ev.StatusCode,
		Phrase:     e.phrase,
	}
}

func normalize(cause string) string {
	s := strings.ToUpper(strings.TrimSpace(cause))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
