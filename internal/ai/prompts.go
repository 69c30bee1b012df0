package ai

const keywordExtractionPrompt = `You turn a shopper's natural-language request into product search terms for Korean shopping sites.

Request: %s

Reply with JSON only, no prose:
{"keywords": ["most specific search term first", "..."], "category": "product category in Korean", "price_range": {"min": 0, "max": 0} or null}

Rules:
- 1 to 3 keywords, each short enough to type into a shopping search box.
- Prices are whole Korean won. Use null for price_range when no budget is mentioned.`

const recommendationPrompt = `A shopper searched for: %s

Top results (JSON):
%s

Write a short recommendation in Korean (2-3 sentences) that points out the best value and the best rated option. Plain text only.`
