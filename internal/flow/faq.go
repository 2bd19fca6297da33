package flow

import "strings"

// FAQ is one canned domain question with its authoritative answer and the
// keywords that trigger it.
type FAQ struct {
	Question string
	Answer   string
	Keywords []string
}

// Compensation FAQ content, injected as data. Legal correctness of the
// answers is an external content concern.
var faqs = []FAQ{
	{
		Question: "In quali casi posso chiedere il risarcimento?",
		Answer:   "Potresti avere diritto a chiedere il risarcimento se hai vissuto nelle zone contaminate, anche se ora non abiti più lì. Potresti richiederlo anche se non hai mai vissuto in quelle zone ma hai posseduto immobili o terreni acquistati prima del 2016. Potresti inoltre richiederlo se un tuo parente che abitava in quelle zone è purtroppo deceduto in conseguenza di malattie derivate dall'esposizione ai PFAS.",
		Keywords: []string{"chi può", "requisiti", "posso chiedere", "ho diritto", "zone contaminate"},
	},
	{
		Question: "Quanto posso ottenere?",
		Answer:   "Stimiamo un importo medio di 30.000 euro a persona per il solo fatto di aver abitato nelle zone contaminate. L'importo potrebbe dipendere da quanti anni hai vissuto in quelle aree e dai livelli di PFAS eventualmente rilevati. Questo risarcimento potrebbe essere molto maggiore se hai acquistato un immobile o un terreno nelle aree contaminate, o se hai sviluppato patologie collegate alla contaminazione da PFAS. L'importo dipende quindi dal danno subito e dalla possibilità di provarlo, e potrebbe variare da 30.000 euro fino a centinaia di migliaia di euro per ciascuna persona danneggiata.",
		Keywords: []string{"quanto", "importo", "soldi", "cifra", "risarcimento", "valore"},
	},
	{
		Question: "Come faccio a sapere quanto posso ottenere?",
		Answer:   "La prima cosa da fare è aderire alla nostra azione, lasciandoci i tuoi dati. Ti contatteremo per conoscere il tuo caso e raccogliere tutte le informazioni necessarie. I nostri periti valuteranno quali documenti servono per quantificare il danno. Ti aiuteremo in ogni passo e saremo sempre a disposizione per qualsiasi chiarimento. A mano a mano che avremo informazioni e documenti, ti diremo quanto potrebbe valere il tuo potenziale risarcimento.",
		Keywords: []string{"calcolo", "sapere quanto", "valutazione", "stima"},
	},
	{
		Question: "Devo anticipare soldi?",
		Answer:   "No, questa campagna è interamente finanziata e non prevede alcun costo anticipato a carico degli aderenti. È già tutto pagato: assistenza alla raccolta documentale, analisi mediche (se necessarie), periti, avvocati. Non dovrai mai anticipare un euro. Solo se e quando riusciremo a ottenere il risarcimento, una parte della somma incassata (35%) verrà trattenuta per ripagare tutte le spese che abbiamo anticipato e il rischio della causa collettiva che abbiamo assunto.",
		Keywords: []string{"costi", "pagare", "anticipare", "spese", "gratuito"},
	},
	{
		Question: "Quanto tempo servirà per essere risarcito?",
		Answer:   "Questo non possiamo ancora quantificarlo con certezza. La causa collettiva sarà molto complessa perché migliaia di persone come te, tutte insieme, chiederanno di essere risarcite. Stimiamo di poter ottenere il risarcimento entro un minimo di tre anni e un massimo di sei. Faremo tutto il necessario per avere i risarcimenti il prima possibile.",
		Keywords: []string{"quando", "tempistiche", "quanto tempo", "durata"},
	},
	{
		Question: "Cosa rischio?",
		Answer:   "Normalmente quando si fa causa, chi perde deve pagare le spese legali all'altra parte. In questo caso, non avrai questo rischio. Se anche l'azione dovesse avere esito negativo, tutte le spese necessarie, comprese quelle di soccombenza, saranno pagate da noi. Quindi, se vinceremo, otterrai il tuo risarcimento al netto della nostra commissione. Se invece perderemo, non pagherai mai niente. L'unico rischio è quello di perdere l'opportunità di ottenere il risarcimento che potrebbe spettarti se non parteciperai a questa azione collettiva.",
		Keywords: []string{"rischi", "cosa rischio", "perdere", "soccombenza", "spese legali"},
	},
	{
		Question: "Che documenti servono?",
		Answer:   "Serviranno in primo luogo due documenti d'identità e il certificato storico di residenza. Dobbiamo verificare chi sei e se hai abitato nelle zone contaminate. Poi il nostro personale chiederà nelle settimane seguenti ulteriori documenti (ad esempio le analisi del sangue fatte per la verifica dei PFAS) in base al tuo specifico caso. La richiesta di documenti sarà personalizzata. Non preoccuparti, saremo al tuo fianco in ogni momento e ti aiuteremo in tutto.",
		Keywords: []string{"documenti", "cosa serve", "carta identità", "certificati", "analisi"},
	},
	{
		Question: "Come funziona l'azione collettiva?",
		Answer:   "Un'azione collettiva è una causa in cui molte persone chiedono assieme la stessa cosa. In questo caso, gli aderenti alla campagna MITENI chiedono di essere risarciti per i danni subiti in conseguenza dell'esposizione ai PFAS. Una volta verificati tutti i tuoi documenti e quantificato il tuo danno, ti faremo firmare un contratto di cessione del potenziale diritto risarcitorio a favore di uno SPV (Special Purpose Vehicle) creato appositamente. Questo veicolo farà causa in nome proprio, a proprie spese e a proprio rischio. Il veicolo è gestito da una Banca e sorvegliato da Banca d'Italia. Le somme eventualmente incassate verranno poi distribuite a tutti i partecipanti in base a regole precise e predeterminate.",
		Keywords: []string{"azione collettiva", "come funziona", "procedura", "spv", "class action"},
	},
	{
		Question: "Il risarcimento sarà uguale per tutti?",
		Answer:   "No. Ciascun aderente avrà un calcolo personalizzato del suo danno risarcibile. Ci saranno quindi aderenti per i quali saranno richiesti 30.000 euro (ad esempio chi ha solo abitato nelle zone contaminate) e aderenti per i quali saranno richiesti importi significativamente maggiori (ad esempio chi ha perso un parente o chi si è ammalato in conseguenza dell'esposizione ai PFAS). Dipende dal tipo di danno subito e dai documenti che ti avremo aiutato a raccogliere.",
		Keywords: []string{"uguale", "stesso", "differenze", "personalizzato"},
	},
	{
		Question: "Contro chi viene fatta questa causa?",
		Answer:   "Questa causa viene fatta contro Mitsubishi, una multinazionale che ha acquistato l'azienda Miteni. È un'azienda molto grande, sicuramente in grado di risarcire gli aderenti di questa azione per i danni che potrebbero aver subito.",
		Keywords: []string{"contro chi", "mitsubishi", "responsabile", "convenuto"},
	},
	{
		Question: "Chi siete?",
		Answer:   "La nostra società si chiama Finanziamento del Contenzioso S.p.A. Siamo italiani e abbiamo la sede principale a Brescia. Siamo il più importante gruppo italiano nel settore della litigation finance o finanziamento del contenzioso. Studiamo le potenziali cause collettive e scegliamo quelle che crediamo di poter gestire per ottenere il risarcimento per i nostri aderenti. Prepariamo queste azioni collettive, le finanziamo e le gestiamo, dal primo contatto fino all'effettivo risarcimento. Abbiamo moltissima esperienza. Il marchio di questa azione è RisarcimentoMiteni.it.",
		Keywords: []string{"chi siete", "società", "finanziamento contenzioso", "brescia", "esperienza"},
	},
}

// MatchFAQ returns the first FAQ whose keyword list has a case-insensitive
// substring match in the message. Deterministic and independent of model
// availability; the caller decides whether the match is authoritative (the
// controller requires a question mark in the message).
func MatchFAQ(message string) (FAQ, bool) {
	lowered := strings.ToLower(message)
	for _, faq := range faqs {
		for _, kw := range faq.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return faq, true
			}
		}
	}
	return FAQ{}, false
}
