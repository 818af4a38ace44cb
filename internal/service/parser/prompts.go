package parser

const fastPrompt = `Extract a retrieval plan from the user's request.

Request:
%s

Return a JSON object with this structure:
{"memories": ["short description of a fact to look for"], "keys": ["keyword"], "tags": ["tag"], "goal_type": "retrieval"}

Rules:
1. "memories" are 1-3 short semantic descriptions of facts that would answer the request
2. "keys" are the exact names and phrases worth matching literally
3. "tags" are broad topic labels
4. "goal_type" is "retrieval" for questions and "update" for statements of new information
Return only the JSON object.`

const finePrompt = `You plan searches over a personal memory graph. Analyze the request
and produce a thorough retrieval plan.

Request:
%s

Return a JSON object with this structure:
{"memories": ["description"], "keys": ["keyword"], "tags": ["tag"], "goal_type": "retrieval"}

Rules:
1. "memories" are 3-5 rephrasings and adjacent descriptions of facts that could answer
   the request, covering different wordings the stored facts might use
2. "keys" list every proper noun, entity name and distinctive phrase from the request
3. "tags" are 2-5 broad topic labels such as categories or life areas
4. "goal_type" is "retrieval" for questions and lookups, "update" for statements that
   add or change information
5. Keep each entry under 15 words
Return only the JSON object.`

const repairInstruction = `

Your previous reply was not valid JSON of the required shape. Reply again
with only the JSON object, no prose, no code fences.`
