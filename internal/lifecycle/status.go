package lifecycle

import (
	"fmt"
	"strings"
)

// Status is the closed set of ticket states.
type Status string

const (
	StatusAberto              Status = "ABERTO"
	StatusEmAndamento         Status = "EM_ANDAMENTO"
	StatusAguardandoUsuario   Status = "AGUARDANDO_USUARIO"
	StatusAguardandoAprovacao Status = "AGUARDANDO_APROVACAO"
	StatusResolvido           Status = "RESOLVIDO"
	StatusCancelado           Status = "CANCELADO"
)

// transitions maps each state to the states it may move to.
var transitions = map[Status]map[Status]bool{
	StatusAberto: {
		StatusEmAndamento: true, StatusAguardandoUsuario: true, StatusAguardandoAprovacao: true,
		StatusResolvido: true, StatusCancelado: true,
	},
	StatusEmAndamento: {
		StatusAguardandoUsuario: true, StatusAguardandoAprovacao: true,
		StatusResolvido: true, StatusCancelado: true,
	},
	StatusAguardandoUsuario: {
		StatusEmAndamento: true, StatusAguardandoAprovacao: true,
		StatusResolvido: true, StatusCancelado: true,
	},
	// only reachable through an approval decision
	StatusAguardandoAprovacao: {StatusEmAndamento: true, StatusCancelado: true},
	StatusResolvido:           {StatusAberto: true},
	StatusCancelado:           {StatusAberto: true},
}

// ActiveStatuses are the states in which the SLA clock may run.
var ActiveStatuses = []Status{StatusAberto, StatusEmAndamento, StatusAguardandoUsuario, StatusAguardandoAprovacao}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Closed reports whether s is terminal (reopenable).
func (s Status) Closed() bool { return s == StatusResolvido || s == StatusCancelado }

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool { return transitions[from][to] }

// ParseStatus accepts a status name in any case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
	return s, nil
}
