// Package flow implements the conversation control core of the intake bot:
// the fixed-order questionnaire graph, the rule-based context guardrail and
// FAQ matcher, the AI interpretation and personalization layers, and the
// per-turn conversation controller that orchestrates them.
package flow

import (
	"fmt"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// Node is one state of the questionnaire: its canonical legal question, the
// key its answer is saved under (empty only for the terminal state), and the
// transition to the next state. Next may inspect previously stored data.
type Node struct {
	Question string
	SaveKey  models.DataKey
	Next     func(ctx *models.ConversationContext, answer string) models.StateID
}

func to(next models.StateID) func(*models.ConversationContext, string) models.StateID {
	return func(*models.ConversationContext, string) models.StateID { return next }
}

// Graph is the immutable questionnaire definition: a finite directed graph
// over the closed set of state identifiers, acyclic except for the terminal
// self-loop.
var Graph = map[models.StateID]Node{
	models.StateNome: {
		Question: "Buongiorno. Per iniziare, qual è il suo nome?",
		SaveKey:  models.KeyNome,
		Next:     to(models.StateCognome),
	},
	models.StateCognome: {
		Question: "Perfetto. Il suo cognome?",
		SaveKey:  models.KeyCognome,
		Next:     to(models.StateEmail),
	},
	models.StateEmail: {
		Question: "Qual è la sua email?",
		SaveKey:  models.KeyEmail,
		Next:     to(models.StateTelefono),
	},
	models.StateTelefono: {
		Question: "Il suo numero di telefono?",
		SaveKey:  models.KeyTelefono,
		Next:     to(models.StateModalita),
	},
	models.StateModalita: {
		Question: "Grazie. Preferisce compilare il questionario qui in chat o preferisce che la chiamiamo al telefono per completarlo insieme?",
		SaveKey:  models.KeyModalita,
		Next: func(ctx *models.ConversationContext, answer string) models.StateID {
			// Branch on the validated form, not the raw answer.
			if ctx.Normalized(models.KeyModalita) == "TELEFONO" {
				return models.StateFine
			}
			return models.StateSesso
		},
	},
	models.StateSesso: {
		Question: "Perfetto. Continuiamo allora.\n\nQual è il suo sesso? (M per Maschio, F per Femmina)",
		SaveKey:  models.KeySesso,
		Next:     to(models.StateLuogoNascita),
	},
	models.StateLuogoNascita: {
		Question: "In quale città è nato/a?",
		SaveKey:  models.KeyLuogoNascita,
		Next:     to(models.StateProvinciaNascita),
	},
	models.StateProvinciaNascita: {
		Question: "In quale provincia? (può scrivere il nome completo o la sigla, es. Vicenza o VI)",
		SaveKey:  models.KeyProvinciaNascita,
		Next:     to(models.StateDataNascita),
	},
	models.StateDataNascita: {
		Question: "Qual è la sua data di nascita? (formato: gg/mm/aaaa, es. 15/03/1985)",
		SaveKey:  models.KeyDataNascita,
		Next:     to(models.StateR1),
	},

	models.StateR1: {
		Question: "Cosa sa dell'inquinamento da PFAS e dei relativi responsabili?",
		SaveKey:  "R1",
		Next:     to(models.StateR2),
	},
	models.StateR2: {
		Question: "Da quanto tempo lo sa e da quale fonte l'ha scoperto?",
		SaveKey:  "R2",
		Next:     to(models.StateR3),
	},
	models.StateR3: {
		Question: "Per cosa usate l'acqua del rubinetto?",
		SaveKey:  "R3",
		Next:     to(models.StateR4),
	},
	models.StateR4: {
		Question: "Se non la usate più, cosa usate al posto dell'acqua del rubinetto (bottiglie, filtri, autobotti…)?",
		SaveKey:  "R4",
		Next:     to(models.StateR5),
	},
	models.StateR5: {
		Question: "Cosa vi ha consigliato il Comune o enti simili? Avete copia degli avvisi?",
		SaveKey:  "R5",
		Next:     to(models.StateR6),
	},
	models.StateR6: {
		Question: "I PFAS possono causare danni alla salute, lo sapeva?",
		SaveKey:  "R6",
		Next:     to(models.StateR7),
	},
	models.StateR7: {
		Question: "Avete mai eseguito i controlli per vedere i valori dei PFAS nel sangue? Se sì, tramite ASL o privatamente?",
		SaveKey:  "R7",
		Next:     to(models.StateR8),
	},
	models.StateR8: {
		Question: "Quali sono i valori? Ha il referto di queste analisi/visite?",
		SaveKey:  "R8",
		Next:     to(models.StateR9),
	},
	models.StateR9: {
		Question: "Ha fatto ulteriori visite specifiche legate a questo problema?",
		SaveKey:  "R9",
		Next:     to(models.StateR10),
	},
	models.StateR10: {
		Question: "Se lei vive nella zona rossa, da quanto tempo ci vive?",
		SaveKey:  "R10",
		Next:     to(models.StateR11),
	},
	models.StateR11: {
		Question: "La casa è di proprietà o in affitto?",
		SaveKey:  "R11",
		Next:     to(models.StateR12),
	},
	models.StateR12: {
		Question: "Ha provato a venderla/affittarla da quando ha saputo dell'inquinamento? Se sì, ha avuto difficoltà?",
		SaveKey:  "R12",
		Next:     to(models.StateR13),
	},
	models.StateR13: {
		Question: "Com'è composto il suo nucleo familiare (persone, parentela, età)? Anche i suoi cari potrebbero avere diritto al risarcimento.",
		SaveKey:  "R13",
		Next:     to(models.StateR14),
	},
	models.StateR14: {
		Question: "Lei o qualcuno della sua famiglia vi siete ammalati negli ultimi anni?",
		SaveKey:  "R14",
		Next:     to(models.StateR15),
	},
	models.StateR15: {
		Question: "Qualcuno della sua famiglia è venuto a mancare negli ultimi anni per malattie collegate ai PFAS?",
		SaveKey:  "R15",
		Next:     to(models.StateR16),
	},
	models.StateR16: {
		Question: "Ha un orto? Se sì, lo usa ancora come prima?",
		SaveKey:  "R16",
		Next:     to(models.StateR17),
	},
	models.StateR17: {
		Question: "Ha smesso o ridotto certe attività all'aperto per paura dell'inquinamento?",
		SaveKey:  "R17",
		Next:     to(models.StateRiepilogo),
	},

	models.StateRiepilogo: {
		Question: "Prima di concludere, le mostro un riepilogo di tutte le informazioni che ha fornito. La preghiamo di verificare attentamente.",
		SaveKey:  models.KeyRiepilogo,
		Next:     to(models.StateConfermaFinale),
	},
	models.StateConfermaFinale: {
		Question: "Conferma che tutte le informazioni sopra riportate sono corrette e veritiere? (risponda Sì o Confermo per dare validità legale alla sua dichiarazione)",
		SaveKey:  models.KeyConfermaFinale,
		Next:     to(models.StateFine),
	},
	models.StateFine: {
		Question: "Grazie per il suo tempo. Abbiamo tutte le informazioni necessarie. La ricontatteremo al più presto. Buona giornata.",
		Next:     to(models.StateFine),
	},
}

// InitialState is where every new conversation starts.
const InitialState = models.StateNome

// TerminalState is the single terminal state; its transition is the identity.
const TerminalState = models.StateFine

// GetNode returns the node for a state.
func GetNode(state models.StateID) (Node, error) {
	node, ok := Graph[state]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", models.ErrUnknownState, state)
	}
	return node, nil
}

// ValidateGraph checks the structural invariants of the questionnaire graph:
// every transition lands on a known state, the terminal state self-loops,
// and the terminal state is reachable from the initial state along every
// path (both the chat branch and the phone-callback branch).
func ValidateGraph() error {
	probe := models.NewConversationContext("graph-probe")
	for id, node := range Graph {
		if id != TerminalState && node.SaveKey == "" {
			return fmt.Errorf("state %s has no save key", id)
		}
		next := node.Next(probe, "")
		if _, ok := Graph[next]; !ok {
			return fmt.Errorf("state %s transitions to unknown state %s", id, next)
		}
	}
	if Graph[TerminalState].Next(probe, "") != TerminalState {
		return fmt.Errorf("terminal state must transition to itself")
	}

	// Walk both branches to the terminal state, bounded by the graph size.
	for _, modalita := range []string{"CHAT", "TELEFONO"} {
		ctx := models.NewConversationContext("graph-probe")
		ctx.SetAnswer(models.KeyModalita, modalita, modalita)
		state := InitialState
		for steps := 0; state != TerminalState; steps++ {
			if steps > len(Graph) {
				return fmt.Errorf("terminal state unreachable on %s branch", modalita)
			}
			state = Graph[state].Next(ctx, "")
		}
	}
	return nil
}
