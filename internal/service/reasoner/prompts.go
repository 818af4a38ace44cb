package reasoner

// relationPrompt asks the model to classify how two memories relate.
// The model answers with a JSON object so the response can be parsed
// without heuristics.
const relationPrompt = `You are analyzing how two memories from the same agent relate to each other.

Memory A: %s
Memory B: %s

Classify the relationship from A to B as exactly one of:
- "CAUSES": A is a cause or direct reason for B.
- "FOLLOWS": B happened after A as part of the same sequence of events.
- "RELATED_TO": A and B concern the same topic but neither causes nor precedes the other.
- "NONE": A and B are unrelated.

Respond with JSON only, no extra text:
{"relation": "CAUSES|FOLLOWS|RELATED_TO|NONE", "confidence": 0.0}`

// chainPrompt asks the model to state the conclusion implied by a
// causal chain. An empty conclusion means the chain is not sound.
const chainPrompt = `The following memories form a causal chain, each one leading to the next:

%s

State the single most useful conclusion that follows from the whole chain, as one short sentence a reader could store as a new memory. If the chain does not support a sound conclusion, respond with an empty conclusion.

Respond with JSON only, no extra text:
{"conclusion": "...", "confidence": 0.0}`

// aggregatePrompt asks the model to summarize a cluster of memories
// about the same subject into one higher-level memory.
const aggregatePrompt = `The following memories all concern the same subject:

%s

Write one concise sentence that summarizes what these memories establish together, suitable for storing as a higher-level memory. Also propose a short key (a few words) naming the subject.

Respond with JSON only, no extra text:
{"summary": "...", "key": "...", "confidence": 0.0}`
