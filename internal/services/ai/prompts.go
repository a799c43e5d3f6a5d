package ai

const analysisPrompt = `You analyze a single content item. Respond with a JSON object:
{"summary": "...", "category": "...", "keywords": ["..."], "importance": 1-10}
- summary: two or three sentences capturing what happened
- category: one lowercase word (finance, tech, politics, health, sports, culture, general)
- keywords: three to eight lowercase terms
- importance: 1 (trivial) to 10 (major event)`

const translationPrompt = `You translate content into English. Respond with a JSON object:
{"text": "...", "source_language": "..."}
If the input is already English, return it unchanged with source_language "en".`

const topicsPrompt = `You identify recurring themes across the provided item summaries,
separated by "---". Respond with a JSON object:
{"topics": [{"name": "...", "keywords": ["..."], "item_count": N}]}
Only include themes supported by at least two items.`

const actionsPrompt = `You extract concrete follow-up actions from a content item.
Respond with a JSON object:
{"actions": [{"description": "...", "owner": "...", "due_hint": "..."}]}
Leave owner and due_hint empty when the text does not name them.
Return an empty actions array when nothing is actionable.`

const reportPrompt = `You compose a concise digest over event clusters and action items,
separated by "---". The first line of the input names the reporting period.
Respond with a JSON object: {"body": "..."}
The body is plain text with short paragraphs, leading with the most important events.`
